// Package gateways tracks the peer IDs of known public IPFS gateways.
package gateways

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"
	mh "github.com/multiformats/go-multihash"
)

// ErrMalformedEntry is returned when a line of a gateway file is not a peer ID.
var ErrMalformedEntry = errors.New("malformed gateway entry")

// Status is the gateway classification of a peer.
type Status uint8

const (
	NonGateway Status = iota
	Gateway
)

// Statuses lists every Status value.
var Statuses = []Status{NonGateway, Gateway}

// Label is the metric label value for the status.
func (s Status) Label() string {
	switch s {
	case NonGateway:
		return "false"
	case Gateway:
		return "true"
	default:
		panic(fmt.Sprintf("unknown gateway status %d", s))
	}
}

func (s Status) String() string {
	if s == Gateway {
		return "gateway"
	}
	return "non-gateway"
}

// Set is a set of gateway peer IDs. Reads are lock-free; Reload builds a new
// map and swaps it in, so readers see either the old or the new set.
type Set struct {
	ids atomic.Pointer[map[string]struct{}]
}

// Empty returns a set without members. All traffic is classified as non-gateway.
func Empty() *Set {
	s := &Set{}
	m := make(map[string]struct{})
	s.ids.Store(&m)
	return s
}

// Load reads a gateway file into a new set.
func Load(path string) (*Set, error) {
	s := Empty()
	if _, err := s.Reload(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Contains reports whether peerID is a known gateway. peerID is expected in
// its canonical string form, as produced by peer.ID.String.
func (s *Set) Contains(peerID string) bool {
	_, ok := (*s.ids.Load())[peerID]
	return ok
}

// Status classifies peerID.
func (s *Set) Status(peerID string) Status {
	if s.Contains(peerID) {
		return Gateway
	}
	return NonGateway
}

// Len returns the number of gateways currently in the set.
func (s *Set) Len() int {
	return len(*s.ids.Load())
}

// Reload replaces the set with the contents of path. On any error the current
// set stays in effect.
func (s *Set) Reload(path string) (int, error) {
	ids, err := readFile(path)
	if err != nil {
		return 0, err
	}
	s.ids.Store(&ids)
	return len(ids), nil
}

func readFile(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gateway file: %w", err)
	}
	defer f.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := decodePeerID(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d %q: %v", ErrMalformedEntry, lineNo, line, err)
		}
		ids[id.String()] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read gateway file: %w", err)
	}
	return ids, nil
}

func decodePeerID(s string) (peer.ID, error) {
	id, err := peer.Decode(s)
	if err == nil {
		return id, nil
	}
	if mhBytes, mhErr := mh.FromB58String(s); mhErr == nil {
		if id, idErr := peer.IDFromBytes(mhBytes); idErr == nil {
			return id, nil
		}
	}
	return "", err
}
