package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabgrid/internal/config"
	"collabgrid/internal/document"
	"collabgrid/internal/identity"
	"collabgrid/internal/metrics"
	"collabgrid/internal/presence"
	"collabgrid/internal/room"
	"collabgrid/internal/session"
	"collabgrid/internal/ws"
)

func TestAgentWritesCells(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	hub := room.NewHub(logger, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	docs := document.NewStore()
	coord := session.New(session.Config{
		Documents:  docs,
		Presence:   presence.NewRegistry(),
		Rooms:      hub,
		Identities: identity.New(),
		Logger:     logger,
		Metrics:    m,
	})
	srv := httptest.NewServer(ws.NewServer(coord, config.Default(), logger, m))
	defer srv.Close()

	err := run(ctx, options{
		url:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		documentID:  "doc1",
		dialTimeout: time.Second,
		sets:        []string{"B3=42", "J10=end"},
	}, logger)
	require.NoError(t, err)

	doc, ok := docs.Get("doc1")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		var b3, j10 string
		locks := -1
		doc.Apply(func(s *document.State) {
			b3 = s.Grid.Get(2, "B")
			j10 = s.Grid.Get(9, "J")
			locks = s.Locks.Len()
		})
		return b3 == "42" && j10 == "end" && locks == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunRejectsBadAssignmentBeforeConnecting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), options{url: "ws://127.0.0.1:1/ws", sets: []string{"Z9=1"}}, logger)
	assert.ErrorIs(t, err, document.ErrUnknownColumn)
}
