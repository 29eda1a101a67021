package dispatch

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrd0ll4r/ipfs-tools/internal/metrics"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

// entryKind is the counter a wantlist entry is attributed to.
type entryKind uint8

const (
	entryWantBlock entryKind = iota
	entryWantBlockSendDontHave
	entryWantHave
	entryWantHaveSendDontHave
	entryCancel
)

func (k entryKind) String() string {
	switch k {
	case entryWantBlock:
		return "WANT_BLOCK"
	case entryWantBlockSendDontHave:
		return "WANT_BLOCK|SEND_DH"
	case entryWantHave:
		return "WANT_HAVE"
	case entryWantHaveSendDontHave:
		return "WANT_HAVE|SEND_DH"
	case entryCancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("entryKind(%d)", uint8(k))
	}
}

func (k entryKind) counter(b *metrics.Bundle) prometheus.Counter {
	switch k {
	case entryWantBlock:
		return b.EntriesWantBlock
	case entryWantBlockSendDontHave:
		return b.EntriesWantBlockSendDontHave
	case entryWantHave:
		return b.EntriesWantHave
	case entryWantHaveSendDontHave:
		return b.EntriesWantHaveSendDontHave
	case entryCancel:
		return b.EntriesCancel
	default:
		panic(fmt.Sprintf("no counter for %s", k))
	}
}

func classifyEntry(e monitoring.WantlistEntry) (entryKind, error) {
	var block bool
	switch e.WantType {
	case monitoring.WantTypeBlock:
		block = true
	case monitoring.WantTypeHave:
	default:
		return 0, fmt.Errorf("%w: wantlist entry for %s has %s", ErrInvariant, e.Cid, e.WantType)
	}

	switch {
	case e.Cancel:
		return entryCancel, nil
	case block && e.SendDontHave:
		return entryWantBlockSendDontHave, nil
	case block:
		return entryWantBlock, nil
	case e.SendDontHave:
		return entryWantHaveSendDontHave, nil
	default:
		return entryWantHave, nil
	}
}

func presenceCounter(b *metrics.Bundle, t monitoring.BlockPresenceType) prometheus.Counter {
	switch t {
	case monitoring.BlockPresenceHave:
		return b.BlockPresenceHave
	case monitoring.BlockPresenceDontHave:
		return b.BlockPresenceDontHave
	default:
		panic(fmt.Sprintf("no counter for %s", t))
	}
}

// classification is the validated outcome of looking at one event. It is
// computed in full before any counter is touched.
type classification struct {
	connection *monitoring.ConnectionEventType
	message    *messageClass
}

type messageClass struct {
	full      bool
	entries   []entryKind
	blocks    int
	presences []monitoring.BlockPresenceType
}

func classify(ev *monitoring.Event) (classification, error) {
	switch {
	case ev.ConnectionEvent != nil && ev.BitswapMessage != nil:
		return classification{}, fmt.Errorf("%w: event carries both a connection event and a message", ErrInvariant)
	case ev.ConnectionEvent != nil:
		t := ev.ConnectionEvent.Type
		switch t {
		case monitoring.Connected, monitoring.Disconnected:
		default:
			return classification{}, fmt.Errorf("%w: %s", ErrInvariant, t)
		}
		return classification{connection: &t}, nil
	case ev.BitswapMessage != nil:
		msg := ev.BitswapMessage
		mc := &messageClass{
			full:   msg.FullWantlist,
			blocks: len(msg.Blocks),
		}
		if len(msg.WantlistEntries) > 0 {
			mc.entries = make([]entryKind, 0, len(msg.WantlistEntries))
		}
		for _, e := range msg.WantlistEntries {
			k, err := classifyEntry(e)
			if err != nil {
				return classification{}, err
			}
			mc.entries = append(mc.entries, k)
		}
		for _, p := range msg.BlockPresences {
			switch p.Type {
			case monitoring.BlockPresenceHave, monitoring.BlockPresenceDontHave:
			default:
				return classification{}, fmt.Errorf("%w: block presence for %s has %s", ErrInvariant, p.Cid, p.Type)
			}
			mc.presences = append(mc.presences, p.Type)
		}
		return classification{message: mc}, nil
	default:
		return classification{}, fmt.Errorf("%w: event carries neither a connection event nor a message", ErrInvariant)
	}
}

// apply increments the counters implied by c on b.
func (c classification) apply(b *metrics.Bundle) {
	if c.connection != nil {
		switch *c.connection {
		case monitoring.Connected:
			b.Connected.Inc()
		case monitoring.Disconnected:
			b.Disconnected.Inc()
		}
		return
	}

	m := c.message
	b.Messages.Inc()
	if len(m.entries) > 0 {
		if m.full {
			b.WantlistsFull.Inc()
		} else {
			b.WantlistsIncremental.Inc()
		}
	}
	for _, k := range m.entries {
		k.counter(b).Inc()
	}
	if m.blocks > 0 {
		b.Blocks.Add(float64(m.blocks))
	}
	for _, p := range m.presences {
		presenceCounter(b, p).Inc()
	}
}
