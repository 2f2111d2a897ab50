package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabgrid/internal/config"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"port", "env", "log-level", "broadcast", "redis-addr", "mdns"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env", "staging"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.Error(t, cmd.Execute())
}

func TestConnectRedisStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := connectRedis(ctx, "127.0.0.1:1", logger)
	assert.Error(t, err)
}

func TestRunFailsBeforeStartingWhenRedisIsUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "could not connect to redis")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "node-1", instanceID("node-1"))

	a, b := instanceID(""), instanceID("")
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
