package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/api"
)

func TestReport(t *testing.T) {
	var events int64
	status := func() api.Status {
		return api.Status{
			Gateways: 3,
			Sources:  []api.SourceStatus{{Monitor: "mon", BrokerAddress: "amqp://localhost", Iterations: 2, Events: events}},
		}
	}

	reg := prometheus.NewRegistry()
	gauges, err := NewGauges(reg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "out", "status.csv")

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReporter(time.Minute, status, gauges, path, zap.NewNop())
	r.lastTime = start

	events = 120
	r.Report(start.Add(time.Minute))
	events = 180
	r.Report(start.Add(2 * time.Minute))

	assert.Equal(t, 3.0, testutil.ToFloat64(gauges.knownGateways))
	assert.Equal(t, 180.0, testutil.ToFloat64(gauges.eventsReceived.WithLabelValues("mon", "amqp://localhost")))
	assert.Equal(t, 2.0, testutil.ToFloat64(gauges.connectionAttempts.WithLabelValues("mon", "amqp://localhost")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "120.00", rows[0][5])
	assert.Equal(t, "60.00", rows[1][5])
	assert.Equal(t, "3", rows[1][6])
}

func TestNewGaugesRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewGauges(reg)
	require.NoError(t, err)
	_, err = NewGauges(reg)
	require.Error(t, err)
}
