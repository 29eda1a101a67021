// Package geolocation maps peer network addresses to a coarse country of origin.
package geolocation

import (
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// OriginKind discriminates the variants of Origin.
type OriginKind uint8

const (
	// OriginUnresolved means no usable address or no database entry.
	OriginUnresolved OriginKind = iota
	// OriginError is the fallback bucket for events whose metrics could not be created.
	OriginError
	// OriginCountry carries an ISO 3166-1 country code.
	OriginCountry
)

// Origin is the geographic classification of an event. It is comparable and
// used as part of map keys.
type Origin struct {
	Kind    OriginKind
	Country string
}

var (
	Unresolved = Origin{Kind: OriginUnresolved}
	Error      = Origin{Kind: OriginError}
)

// Country returns the origin for an ISO country code.
func Country(code string) Origin {
	return Origin{Kind: OriginCountry, Country: code}
}

// Label is the metric label value for the origin.
func (o Origin) Label() string {
	switch o.Kind {
	case OriginUnresolved:
		return "unknown"
	case OriginError:
		return "error"
	case OriginCountry:
		return o.Country
	default:
		panic(fmt.Sprintf("unknown origin kind %d", o.Kind))
	}
}

func (o Origin) String() string { return o.Label() }

// CountryLookup is the part of a GeoIP database used here. *geoip2.Reader implements it.
type CountryLookup interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

// Resolver classifies addresses. It is read-only after construction and safe
// for concurrent use.
type Resolver struct {
	db     CountryLookup
	logger *zap.Logger
}

// NewResolver wraps an already opened database.
func NewResolver(db CountryLookup, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger.Named("geolocation")}
}

// Open loads a GeoLite2/GeoIP2 country database from disk.
func Open(path string, logger *zap.Logger) (*Resolver, *geoip2.Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open GeoIP database %s: %w", path, err)
	}
	return NewResolver(db, logger), db, nil
}

// Classify returns the origin of the first address with a public IP that has
// a country entry. It never fails; anything unusable yields Unresolved.
func (r *Resolver) Classify(addrs []string) Origin {
	for _, addr := range addrs {
		ip := ipFromMultiaddr(addr)
		if ip == nil || isPrivateIP(ip) {
			continue
		}
		rec, err := r.db.Country(ip)
		if err != nil {
			r.logger.Debug("country lookup failed", zap.Stringer("ip", ip), zap.Error(err))
			continue
		}
		if rec == nil {
			continue
		}
		code := strings.TrimSpace(rec.Country.IsoCode)
		if code == "" {
			// Anonymous proxies and satellite providers only carry a registered country.
			code = strings.TrimSpace(rec.RegisteredCountry.IsoCode)
		}
		if code != "" {
			return Country(code)
		}
	}
	return Unresolved
}

func ipFromMultiaddr(s string) net.IP {
	if s == "" {
		return nil
	}
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil
	}
	if v, err := addr.ValueForProtocol(ma.P_IP4); err == nil {
		return net.ParseIP(v)
	}
	if v, err := addr.ValueForProtocol(ma.P_IP6); err == nil {
		return net.ParseIP(v)
	}
	return nil
}

var privateIPBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fc00::/7"} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
