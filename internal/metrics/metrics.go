// Package metrics holds the Prometheus counters of the monitoring client.
package metrics

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrd0ll4r/ipfs-tools/internal/gateways"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
)

const namespace = "bitswap_monitor"

// ErrInvalidLabel is returned when a key cannot be turned into metric labels.
var ErrInvalidLabel = errors.New("invalid metric label")

var baseLabels = []string{"monitor", "origin_country", "origin_is_gateway"}

func withBase(extra ...string) []string {
	out := make([]string, 0, len(baseLabels)+len(extra))
	out = append(out, baseLabels...)
	return append(out, extra...)
}

// Metrics is the process-wide counter storage. Counters are safe for
// concurrent increments from any supervisor.
type Metrics struct {
	connectionEvents *prometheus.CounterVec
	messages         *prometheus.CounterVec
	wantlists        *prometheus.CounterVec
	wantlistEntries  *prometheus.CounterVec
	blocks           *prometheus.CounterVec
	blockPresences   *prometheus.CounterVec
}

// New creates the counter vectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection events observed by the monitor, by connection event type",
		}, withBase("type")),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Bitswap messages received by the monitor",
		}, baseLabels),
		wantlists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wantlists_total",
			Help:      "Bitswap messages carrying wantlist entries, by full/incremental",
		}, withBase("full")),
		wantlistEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wantlist_entries_total",
			Help:      "Wantlist entries received, by entry type",
		}, withBase("entry_type")),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks received in Bitswap messages",
		}, baseLabels),
		blockPresences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_presences_total",
			Help:      "Block presence notices received, by presence type",
		}, withBase("presence_type")),
	}

	for _, c := range []prometheus.Collector{
		m.connectionEvents,
		m.messages,
		m.wantlists,
		m.wantlistEntries,
		m.blocks,
		m.blockPresences,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Key indexes a Bundle: the origin of an event crossed with the gateway
// status of its peer. It is comparable and used as a map key.
type Key struct {
	Origin  geolocation.Origin
	Gateway gateways.Status
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Origin.Label(), k.Gateway)
}

// Bundle is the set of counters for one monitor and Key.
type Bundle struct {
	Connected    prometheus.Counter
	Disconnected prometheus.Counter

	Messages             prometheus.Counter
	WantlistsFull        prometheus.Counter
	WantlistsIncremental prometheus.Counter

	EntriesWantBlock             prometheus.Counter
	EntriesWantBlockSendDontHave prometheus.Counter
	EntriesWantHave              prometheus.Counter
	EntriesWantHaveSendDontHave  prometheus.Counter
	EntriesCancel                prometheus.Counter

	Blocks prometheus.Counter

	BlockPresenceHave     prometheus.Counter
	BlockPresenceDontHave prometheus.Counter
}

func validLabel(v string) bool {
	return v != "" && utf8.ValidString(v)
}

// NewBundle resolves the counters for monitor and key. It fails if a label
// value is empty or rejected by Prometheus.
func (m *Metrics) NewBundle(monitor string, key Key) (*Bundle, error) {
	origin := key.Origin.Label()
	gw := key.Gateway.Label()
	if !validLabel(monitor) || !validLabel(origin) {
		return nil, fmt.Errorf("%w: monitor=%q origin=%q", ErrInvalidLabel, monitor, origin)
	}

	var firstErr error
	get := func(vec *prometheus.CounterVec, extra ...string) prometheus.Counter {
		if firstErr != nil {
			return nil
		}
		lvs := append([]string{monitor, origin, gw}, extra...)
		c, err := vec.GetMetricWithLabelValues(lvs...)
		if err != nil {
			firstErr = fmt.Errorf("%w: %v", ErrInvalidLabel, err)
			return nil
		}
		return c
	}

	b := &Bundle{
		Connected:                    get(m.connectionEvents, "connected"),
		Disconnected:                 get(m.connectionEvents, "disconnected"),
		Messages:                     get(m.messages),
		WantlistsFull:                get(m.wantlists, "true"),
		WantlistsIncremental:         get(m.wantlists, "false"),
		EntriesWantBlock:             get(m.wantlistEntries, "want_block"),
		EntriesWantBlockSendDontHave: get(m.wantlistEntries, "want_block_send_dont_have"),
		EntriesWantHave:              get(m.wantlistEntries, "want_have"),
		EntriesWantHaveSendDontHave:  get(m.wantlistEntries, "want_have_send_dont_have"),
		EntriesCancel:                get(m.wantlistEntries, "cancel"),
		Blocks:                       get(m.blocks),
		BlockPresenceHave:            get(m.blockPresences, "have"),
		BlockPresenceDontHave:        get(m.blockPresences, "dont_have"),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return b, nil
}
