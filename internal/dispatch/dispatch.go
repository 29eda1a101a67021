// Package dispatch turns decoded monitoring events into counter updates and
// disk log records.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/gateways"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
	"github.com/mrd0ll4r/ipfs-tools/internal/metrics"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
	"github.com/mrd0ll4r/ipfs-tools/internal/ratelimit"
)

// At most this many metric creation failures are logged per key and minute.
const (
	errorLogBurst  = 5
	errorLogWindow = time.Minute
)

// ErrInvariant is returned for events that cannot have been produced by a
// well-behaved monitor, such as an unknown want type.
var ErrInvariant = errors.New("event invariant violated")

// Classifier resolves the origin of a set of peer addresses.
type Classifier interface {
	Classify(addrs []string) geolocation.Origin
}

// Membership reports the gateway status of a peer.
type Membership interface {
	Status(peerID string) gateways.Status
}

// EventLogger persists raw events. A nil EventLogger disables persistence.
type EventLogger interface {
	Log(ev monitoring.Event) error
}

// Dispatcher processes the event batches of one monitor. It owns that
// monitor's Registry and must not be shared between goroutines.
type Dispatcher struct {
	monitor  string
	geo      Classifier
	gateways Membership
	registry *metrics.Registry
	logger   *zap.Logger
	errLogs  *ratelimit.Limiter
}

// New creates a dispatcher for the monitor that registry belongs to.
func New(geo Classifier, gw Membership, registry *metrics.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		monitor:  registry.Monitor(),
		geo:      geo,
		gateways: gw,
		registry: registry,
		logger:   logger.Named("dispatch").With(zap.String("monitor", registry.Monitor())),
		errLogs:  ratelimit.New(errorLogBurst, errorLogWindow),
	}
}

// Dispatch processes events in order. An event that violates an invariant
// stops the batch with ErrInvariant before any of its counters change. A
// failed disk write stops the batch as well.
func (d *Dispatcher) Dispatch(events []monitoring.Event, el EventLogger) error {
	debug := d.logger.Core().Enabled(zap.DebugLevel)

	for i := range events {
		ev := &events[i]

		c, err := classify(ev)
		if err != nil {
			return fmt.Errorf("event from %s at %s: %w", ev.Peer, ev.Timestamp, err)
		}

		key := metrics.Key{
			Origin:  d.geo.Classify(ev.Addresses()),
			Gateway: d.gateways.Status(ev.Peer),
		}
		bundle, created, err := d.registry.GetOrCreate(key)
		if err != nil {
			if ok, suppressed := d.errLogs.Allow(key.String()); ok {
				d.logger.Error("unable to create metrics, counting as error origin",
					zap.Stringer("key", key), zap.Int("suppressed", suppressed), zap.Error(err))
			}
		} else if created {
			d.logger.Debug("created metrics", zap.Stringer("key", key))
		}

		c.apply(bundle)

		if debug {
			d.logEvent(ev, key)
		}

		if el != nil {
			if err := el.Log(*ev); err != nil {
				return fmt.Errorf("log event to disk: %w", err)
			}
		}
	}
	return nil
}

func (d *Dispatcher) logEvent(ev *monitoring.Event, key metrics.Key) {
	ident := ev.Identifier(d.monitor)
	origin := zap.Stringer("origin", key)

	if ce := ev.ConnectionEvent; ce != nil {
		d.logger.Debug(fmt.Sprintf("%s %-12s", ident, ce.Type), origin)
		return
	}

	msg := ev.BitswapMessage
	kind := "INC"
	if msg.FullWantlist {
		kind = "FULL"
	}
	for _, e := range msg.WantlistEntries {
		k, _ := classifyEntry(e)
		d.logger.Debug(fmt.Sprintf("%s %-4s %-18s (%10d) %s", ident, kind, k, e.Priority, e.Cid), origin)
	}
	for _, b := range msg.Blocks {
		d.logger.Debug(fmt.Sprintf("%s %-9s %s", ident, "BLOCK", b), origin)
	}
	for _, p := range msg.BlockPresences {
		d.logger.Debug(fmt.Sprintf("%s %-9s %s", ident, p.Type, p.Cid), origin)
	}
}
