package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrd0ll4r/ipfs-tools/internal/gateways"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
)

func (r *Registry) lookup(key Key) (*Bundle, bool) {
	b, ok := r.bundles[key]
	return b, ok
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestNewRegistryPrepopulates(t *testing.T) {
	r, err := NewRegistry(newTestMetrics(t), "mon")
	require.NoError(t, err)

	for _, gw := range gateways.Statuses {
		_, ok := r.lookup(Key{Origin: geolocation.Error, Gateway: gw})
		assert.True(t, ok, "error bundle for %s", gw)
		_, ok = r.lookup(Key{Origin: geolocation.Unresolved, Gateway: gw})
		assert.True(t, ok, "unresolved bundle for %s", gw)
		_, ok = r.lookup(Key{Origin: geolocation.Country("DE"), Gateway: gw})
		assert.True(t, ok, "DE bundle for %s", gw)
	}
	assert.Equal(t, 2*(2+len(BasicCountries)), r.Len())
	assert.Equal(t, "mon", r.Monitor())
}

func TestNewRegistryRejectsEmptyMonitor(t *testing.T) {
	_, err := NewRegistry(newTestMetrics(t), "")
	require.ErrorIs(t, err, ErrInvalidLabel)
}

func TestGetOrCreateExisting(t *testing.T) {
	r, err := NewRegistry(newTestMetrics(t), "mon")
	require.NoError(t, err)
	key := Key{Origin: geolocation.Country("US"), Gateway: gateways.Gateway}

	want, _ := r.lookup(key)
	got, created, err := r.GetOrCreate(key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, want, got)
}

func TestGetOrCreateNewKey(t *testing.T) {
	r, err := NewRegistry(newTestMetrics(t), "mon")
	require.NoError(t, err)
	before := r.Len()
	key := Key{Origin: geolocation.Country("IS"), Gateway: gateways.NonGateway}

	b, created, err := r.GetOrCreate(key)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, b)
	assert.Equal(t, before+1, r.Len())

	again, created, err := r.GetOrCreate(key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, b, again)
}

func TestGetOrCreateFailureFallsBackToErrorBundle(t *testing.T) {
	r, err := NewRegistry(newTestMetrics(t), "mon")
	require.NoError(t, err)
	before := r.Len()

	for _, gw := range gateways.Statuses {
		bad := Key{Origin: geolocation.Country("\xff\xfe"), Gateway: gw}
		b, created, err := r.GetOrCreate(bad)
		require.ErrorIs(t, err, ErrInvalidLabel)
		assert.False(t, created)

		errBundle, _ := r.lookup(Key{Origin: geolocation.Error, Gateway: gw})
		assert.Same(t, errBundle, b)
		_, inserted := r.lookup(bad)
		assert.False(t, inserted)
	}

	empty := Key{Origin: geolocation.Country(""), Gateway: gateways.Gateway}
	b, _, err := r.GetOrCreate(empty)
	require.ErrorIs(t, err, ErrInvalidLabel)
	errBundle, _ := r.lookup(Key{Origin: geolocation.Error, Gateway: gateways.Gateway})
	assert.Same(t, errBundle, b)

	assert.Equal(t, before, r.Len())
}

func TestBundlesShareCountersAcrossRegistries(t *testing.T) {
	m := newTestMetrics(t)
	a, err := NewRegistry(m, "mon")
	require.NoError(t, err)
	b, err := NewRegistry(m, "mon")
	require.NoError(t, err)
	key := Key{Origin: geolocation.Country("FR"), Gateway: gateways.NonGateway}

	ba, _, _ := a.GetOrCreate(key)
	bb, _, _ := b.GetOrCreate(key)
	ba.Messages.Inc()
	bb.Messages.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(ba.Messages))
}

func TestSeparateMonitorsHaveSeparateSeries(t *testing.T) {
	m := newTestMetrics(t)
	a, err := NewRegistry(m, "mon-a")
	require.NoError(t, err)
	b, err := NewRegistry(m, "mon-b")
	require.NoError(t, err)
	key := Key{Origin: geolocation.Country("FR"), Gateway: gateways.NonGateway}

	ba, _, _ := a.GetOrCreate(key)
	bb, _, _ := b.GetOrCreate(key)
	ba.Connected.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(ba.Connected))
	assert.Equal(t, 0.0, testutil.ToFloat64(bb.Connected))
}

func TestKeyString(t *testing.T) {
	k := Key{Origin: geolocation.Country("DE"), Gateway: gateways.Gateway}
	assert.Equal(t, "DE/gateway", k.String())
}
