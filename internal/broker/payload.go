package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DecodePayload decodes the body of one delivery into a batch of events.
// Bodies are JSON arrays of events, optionally gzip-compressed. A single JSON
// object is accepted as a batch of one.
func DecodePayload(body []byte, contentEncoding string) ([]monitoring.Event, error) {
	if contentEncoding == "gzip" || bytes.HasPrefix(body, gzipMagic) {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("open gzip payload: %w", err)
		}
		defer gz.Close()
		body, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if body[0] == '{' {
		var ev monitoring.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return []monitoring.Event{ev}, nil
	}

	var events []monitoring.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	return events, nil
}
