//go:build unix

package gateways

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReloadOnSIGUSR1(t *testing.T) {
	ids := newPeerIDs(t, 2)
	path := filepath.Join(t.TempDir(), "gateways.txt")
	writeGatewayFile(t, path, ids[0])

	set, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core, logs := observer.New(zap.InfoLevel)
	HandleReloadSignal(ctx, path, set, zap.New(core))

	writeGatewayFile(t, path, ids[1])
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		return set.Contains(ids[1])
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, set.Contains(ids[0]))

	writeGatewayFile(t, path, "not-a-peer-id")
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("unable to reload gateway IDs, keeping previous set").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, set.Contains(ids[1]))
	assert.Equal(t, 1, set.Len())
}
