package monitoring

import (
	"errors"
	"fmt"
	"strings"
)

// ExchangeName is the topic exchange monitors publish their events to.
const ExchangeName = "ipfs.passive_monitoring"

// RoutingKeyKind selects one of the per-monitor event streams.
type RoutingKeyKind int

const (
	BitswapMessages RoutingKeyKind = iota
	ConnectionEvents
)

// RoutingKey identifies one event stream of one monitor.
type RoutingKey struct {
	Kind    RoutingKeyKind
	Monitor string
}

func (k RoutingKey) String() string {
	switch k.Kind {
	case BitswapMessages:
		return fmt.Sprintf("monitor.%s.bitswap_messages", k.Monitor)
	case ConnectionEvents:
		return fmt.Sprintf("monitor.%s.conn_events", k.Monitor)
	default:
		panic(fmt.Sprintf("unknown routing key kind %d", int(k.Kind)))
	}
}

// ErrInvalidMonitorName is returned for monitor names that cannot be used as a
// routing key word or a directory name.
var ErrInvalidMonitorName = errors.New("invalid monitor name")

// ValidateMonitorName checks that name is a single routing key word without
// topic wildcards and a plain directory name.
func ValidateMonitorName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMonitorName)
	}
	if i := strings.IndexAny(name, `/\.*#`); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidMonitorName, name, name[i])
	}
	return nil
}

// RoutingKeysFor returns the fixed pair of streams consumed for a monitor.
func RoutingKeysFor(monitor string) []RoutingKey {
	return []RoutingKey{
		{Kind: BitswapMessages, Monitor: monitor},
		{Kind: ConnectionEvents, Monitor: monitor},
	}
}
