// Package monitoring holds the decoded event model pushed by Bitswap monitoring nodes.
package monitoring

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
)

// WantType is the want type of a wantlist entry.
type WantType int

const (
	WantTypeBlock WantType = 0
	WantTypeHave  WantType = 1
)

func (w WantType) String() string {
	switch w {
	case WantTypeBlock:
		return "WANT_BLOCK"
	case WantTypeHave:
		return "WANT_HAVE"
	default:
		return fmt.Sprintf("WantType(%d)", int(w))
	}
}

// BlockPresenceType tells whether a peer announced having or not having a block.
type BlockPresenceType int

const (
	BlockPresenceHave     BlockPresenceType = 0
	BlockPresenceDontHave BlockPresenceType = 1
)

func (b BlockPresenceType) String() string {
	switch b {
	case BlockPresenceHave:
		return "HAVE"
	case BlockPresenceDontHave:
		return "DONT_HAVE"
	default:
		return fmt.Sprintf("BlockPresenceType(%d)", int(b))
	}
}

// ConnectionEventType is the direction of a connection state transition.
type ConnectionEventType int

const (
	Connected    ConnectionEventType = 0
	Disconnected ConnectionEventType = 1
)

func (c ConnectionEventType) String() string {
	switch c {
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("ConnectionEventType(%d)", int(c))
	}
}

// WantlistEntry mirrors the Bitswap message entry as serialized by the monitoring plugin.
type WantlistEntry struct {
	Cid          cid.Cid  `json:"Cid"`
	Priority     int32    `json:"Priority"`
	WantType     WantType `json:"WantType"`
	Cancel       bool     `json:"Cancel"`
	SendDontHave bool     `json:"SendDontHave"`
}

// BlockPresence is a HAVE or DONT_HAVE notice for one CID.
type BlockPresence struct {
	Cid  cid.Cid           `json:"cid"`
	Type BlockPresenceType `json:"block_presence_type"`
}

// BitswapMessage is a decoded Bitswap protocol message received from a peer.
// Addresses are kept as strings; multiaddrs do not round-trip through encoding/json.
type BitswapMessage struct {
	WantlistEntries    []WantlistEntry `json:"wantlist_entries"`
	FullWantlist       bool            `json:"full_wantlist"`
	Blocks             []cid.Cid       `json:"blocks"`
	BlockPresences     []BlockPresence `json:"block_presences"`
	ConnectedAddresses []string        `json:"connected_addresses"`
}

// ConnectionEvent is a connect or disconnect of a peer.
type ConnectionEvent struct {
	Remote string              `json:"remote"`
	Type   ConnectionEventType `json:"connection_event_type"`
}

// Event is one occurrence pushed by a monitor. Exactly one of BitswapMessage
// and ConnectionEvent is set on a well-formed event.
type Event struct {
	Timestamp       time.Time        `json:"timestamp"`
	Peer            string           `json:"peer"`
	BitswapMessage  *BitswapMessage  `json:"bitswap_message,omitempty"`
	ConnectionEvent *ConnectionEvent `json:"connection_event,omitempty"`
}

// Addresses returns the network addresses known for the event's peer, most
// specific first.
func (e *Event) Addresses() []string {
	switch {
	case e.ConnectionEvent != nil:
		if e.ConnectionEvent.Remote == "" {
			return nil
		}
		return []string{e.ConnectionEvent.Remote}
	case e.BitswapMessage != nil:
		return e.BitswapMessage.ConnectedAddresses
	default:
		return nil
	}
}

// Identifier renders a fixed-width prefix for per-event debug lines so that
// consecutive lines stay aligned.
func (e *Event) Identifier(monitor string) string {
	return fmt.Sprintf("%s %-12s %52s", e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), monitor, e.Peer)
}
