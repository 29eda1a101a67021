package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewServer("127.0.0.1:0", reg, func() Status {
		return Status{
			StartedAt: started,
			Gateways:  2,
			Sources:   []SourceStatus{{Monitor: "mon", BrokerAddress: "amqp://localhost", Iterations: 4}},
		}
	}, zap.NewNop())
	addr, err := s.Start()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())
	base := fmt.Sprintf("http://%s", addr)

	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "test_events_total 3"), body)

	code, body = get(t, base+"/status")
	assert.Equal(t, http.StatusOK, code)
	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 2, st.Gateways)
	require.Len(t, st.Sources, 1)
	assert.Equal(t, int64(4), st.Sources[0].Iterations)
}

func TestStartFailsOnBadAddress(t *testing.T) {
	s := NewServer("not-an-address", prometheus.NewRegistry(), nil, zap.NewNop())
	_, err := s.Start()
	require.Error(t, err)
}
