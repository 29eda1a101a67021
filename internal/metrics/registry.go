package metrics

import (
	"fmt"

	"github.com/mrd0ll4r/ipfs-tools/internal/gateways"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
)

// BasicCountries are created ahead of traffic so dashboards have stable series.
var BasicCountries = []string{
	"US", "DE", "FR", "GB", "CN", "NL", "CA", "JP", "KR", "SG",
	"IN", "RU", "BR", "FI", "SE", "PL", "UA", "HK", "TW", "AU",
}

// Registry maps keys to bundles for one monitor. It is owned by a single
// supervisor and is not safe for concurrent use.
type Registry struct {
	metrics *Metrics
	monitor string
	bundles map[Key]*Bundle
}

// NewRegistry creates the registry for monitor with the error bundles, the
// unresolved bundles and the basic set of countries already present. Failing
// to create an error bundle is fatal.
func NewRegistry(m *Metrics, monitor string) (*Registry, error) {
	r := &Registry{
		metrics: m,
		monitor: monitor,
		bundles: make(map[Key]*Bundle),
	}

	for _, gw := range gateways.Statuses {
		for _, origin := range []geolocation.Origin{geolocation.Error, geolocation.Unresolved} {
			key := Key{Origin: origin, Gateway: gw}
			b, err := m.NewBundle(monitor, key)
			if err != nil {
				return nil, fmt.Errorf("create %s metrics for monitor %s: %w", key, monitor, err)
			}
			r.bundles[key] = b
		}
		for _, country := range BasicCountries {
			key := Key{Origin: geolocation.Country(country), Gateway: gw}
			if b, err := m.NewBundle(monitor, key); err == nil {
				r.bundles[key] = b
			}
		}
	}
	return r, nil
}

// GetOrCreate returns the bundle for key, creating it on first use. If the
// bundle cannot be created, the error bundle for key's gateway status is
// returned together with the creation error and nothing is inserted.
func (r *Registry) GetOrCreate(key Key) (b *Bundle, created bool, err error) {
	if b, ok := r.bundles[key]; ok {
		return b, false, nil
	}
	b, err = r.metrics.NewBundle(r.monitor, key)
	if err != nil {
		return r.bundles[Key{Origin: geolocation.Error, Gateway: key.Gateway}], false, err
	}
	r.bundles[key] = b
	return b, true, nil
}

// Len returns the number of bundles.
func (r *Registry) Len() int { return len(r.bundles) }

// Monitor returns the monitor name the registry belongs to.
func (r *Registry) Monitor() string { return r.monitor }
