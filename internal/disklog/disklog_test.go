package disklog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/gzip"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

func testEvents(t *testing.T) []monitoring.Event {
	t.Helper()
	h, err := mh.Sum([]byte("block"), mh.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, h)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	return []monitoring.Event{
		{
			Timestamp:       ts,
			Peer:            "12D3KooWPeer",
			ConnectionEvent: &monitoring.ConnectionEvent{Remote: "/ip4/5.9.0.1/tcp/4001", Type: monitoring.Connected},
		},
		{
			Timestamp: ts.Add(time.Second),
			Peer:      "12D3KooWPeer",
			BitswapMessage: &monitoring.BitswapMessage{
				WantlistEntries: []monitoring.WantlistEntry{{Cid: c, Priority: 10, WantType: monitoring.WantTypeHave, SendDontHave: true}},
				FullWantlist:    true,
				Blocks:          []cid.Cid{c},
				BlockPresences:  []monitoring.BlockPresence{{Cid: c, Type: monitoring.BlockPresenceDontHave}},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "mon")
	require.NoError(t, err)

	events := testEvents(t)
	for _, ev := range events {
		require.NoError(t, l.Log(ev))
	}
	assert.Equal(t, 2, l.Count())
	require.NoError(t, l.Close())

	assert.Equal(t, filepath.Join(dir, "mon"), filepath.Dir(l.Path()))
	assert.True(t, strings.HasSuffix(l.Path(), FileSuffix))

	var got []monitoring.Event
	require.NoError(t, ReadFile(l.Path(), func(ev monitoring.Event) error {
		got = append(got, ev)
		return nil
	}))
	assert.Equal(t, events, got)
}

func TestOneJSONObjectPerLine(t *testing.T) {
	l, err := Open(t.TempDir(), "mon")
	require.NoError(t, err)
	for _, ev := range testEvents(t) {
		require.NoError(t, l.Log(ev))
	}
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(gz)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := Open(t.TempDir(), "mon")
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Log(testEvents(t)[0]), ErrClosed)
}

func TestEmptyScopeIsValidLog(t *testing.T) {
	l, err := Open(t.TempDir(), "mon")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	n := 0
	require.NoError(t, ReadFile(l.Path(), func(monitoring.Event) error {
		n++
		return nil
	}))
	assert.Zero(t, n)
}

func TestScopesGetDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, "mon")
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(dir, "mon")
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.Path(), b.Path())
}

func TestOpenRejectsPathInMonitorName(t *testing.T) {
	for _, name := range []string{"../escape", "", "..", ".", "eu/1", `eu\1`} {
		dir := filepath.Join(t.TempDir(), "logs")
		_, err := Open(dir, name)
		require.ErrorIs(t, err, monitoring.ErrInvalidMonitorName, "monitor %q", name)

		entries, err := os.ReadDir(filepath.Dir(dir))
		require.NoError(t, err)
		assert.Empty(t, entries, "monitor %q", name)
	}
}

func TestReadFileStopsOnCallbackError(t *testing.T) {
	l, err := Open(t.TempDir(), "mon")
	require.NoError(t, err)
	for _, ev := range testEvents(t) {
		require.NoError(t, l.Log(ev))
	}
	require.NoError(t, l.Close())

	stop := errors.New("stop")
	n := 0
	err = ReadFile(l.Path(), func(monitoring.Event) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestReadFileNotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.json.gz")
	require.NoError(t, os.WriteFile(path, []byte(`{"peer":"x"}`), 0644))
	require.Error(t, ReadFile(path, func(monitoring.Event) error { return nil }))
}
