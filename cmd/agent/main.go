// Command agent joins a collabgrid document from the command line. It finds
// a server over mDNS unless given a URL, prints every event the room
// receives and can write cells.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"collabgrid/internal/discovery"
	"collabgrid/internal/protocol"
)

type options struct {
	url             string
	service         string
	documentID      string
	discoverTimeout time.Duration
	dialTimeout     time.Duration
	sets            []string
	tail            bool
	verbose         bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "collabgrid-agent",
		Short:        "Join a collabgrid document and follow its events",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "", "server websocket URL; discovered over mDNS when empty")
	flags.StringVar(&opts.service, "service", "_collabgrid._tcp", "mDNS service to browse for")
	flags.StringVar(&opts.documentID, "doc", "", "document to join; a new one is created when empty")
	flags.DurationVar(&opts.discoverTimeout, "discover-timeout", 15*time.Second, "how long to browse for a server")
	flags.DurationVar(&opts.dialTimeout, "dial-timeout", 30*time.Second, "how long to keep retrying the connection")
	flags.StringArrayVar(&opts.sets, "set", nil, "write a cell after joining, e.g. --set B3=42 (repeatable)")
	flags.BoolVar(&opts.tail, "tail", true, "keep printing events after the writes are done")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	writes := make([]assignment, 0, len(opts.sets))
	for _, s := range opts.sets {
		a, err := parseAssignment(s)
		if err != nil {
			return err
		}
		writes = append(writes, a)
	}

	url := opts.url
	if url == "" {
		findCtx, cancel := context.WithTimeout(ctx, opts.discoverTimeout)
		ep, err := discovery.Find(findCtx, opts.service, logger)
		cancel()
		if err != nil {
			return err
		}
		url = ep.URL()
	}

	conn, err := dial(ctx, url, opts.dialTimeout, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	a := &agent{conn: conn, log: logger}
	return a.run(ctx, opts.documentID, writes, opts.tail)
}

// dial connects to url, retrying with exponential backoff until timeout.
func dial(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("could not connect, retrying", "url", url, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	logger.Info("connected", "url", url)
	return conn, nil
}

// agent owns one connection. Only run writes to it; the read loop hands
// decoded events over a channel.
type agent struct {
	conn    *websocket.Conn
	log     *slog.Logger
	session protocol.SessionJoined
}

func (a *agent) run(ctx context.Context, documentID string, writes []assignment, tail bool) error {
	if err := a.emit(protocol.Join{DocumentID: documentID}); err != nil {
		return err
	}

	events := make(chan protocol.Outbound)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go a.readLoop(events, readErr, done)

	for {
		select {
		case <-ctx.Done():
			_ = a.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Info("server closed the connection")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case ev := <-events:
			a.print(ev)
			joined, ok := ev.(protocol.SessionJoined)
			if !ok {
				continue
			}
			a.session = joined
			if err := a.write(writes); err != nil {
				return err
			}
			if !tail {
				return nil
			}
		}
	}
}

func (a *agent) readLoop(events chan<- protocol.Outbound, errs chan<- error, done <-chan struct{}) {
	for {
		_, frame, err := a.conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		ev, err := protocol.DecodeOutbound(frame)
		if err != nil {
			a.log.Warn("ignoring frame", "error", err)
			continue
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

// write edits each cell the way an interactive client does: take the lock,
// change the value, release the lock.
func (a *agent) write(writes []assignment) error {
	s := a.session
	for _, w := range writes {
		msgs := []protocol.Inbound{
			protocol.CellEditStart{SessionID: s.SessionID, DocumentID: s.DocumentID, CellID: w.CellID},
			protocol.CellValueChange{SessionID: s.SessionID, DocumentID: s.DocumentID, RowIndex: w.Row, Field: w.Field, Value: w.Value},
			protocol.CellEditEnd{SessionID: s.SessionID, DocumentID: s.DocumentID, CellID: w.CellID},
		}
		for _, m := range msgs {
			if err := a.emit(m); err != nil {
				return err
			}
		}
		a.log.Info("wrote cell", "cell", w.CellID, "value", w.Value)
	}
	return nil
}

func (a *agent) emit(m protocol.Inbound) error {
	frame, err := protocol.EncodeInbound(m)
	if err != nil {
		return err
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", m.EventName(), err)
	}
	return nil
}

func (a *agent) print(ev protocol.Outbound) {
	switch e := ev.(type) {
	case protocol.SessionJoined:
		a.log.Info("joined", "doc", e.DocumentID, "session", e.SessionID, "as", e.Participant.Name,
			"participants", len(e.Participants), "locks", len(e.CellLocks))
	case protocol.UserJoined:
		a.log.Info("user joined", "name", e.Name, "color", e.Color)
	case protocol.UserLeft:
		a.log.Info("user left", "name", e.Name)
	case protocol.UsersUpdated:
		names := make([]string, len(e))
		for i, p := range e {
			names[i] = p.Name
		}
		a.log.Info("participants", "names", names)
	case protocol.CellEditStarted:
		a.log.Info("editing", "cell", e.CellID, "by", e.Holder.Name)
	case protocol.CellEditEnded:
		a.log.Info("done editing", "cell", e.CellID)
	case protocol.CellValueUpdated:
		a.log.Info("cell updated", "cell", fmt.Sprintf("%s%d", e.Field, e.RowIndex+1), "value", e.Value)
	default:
		a.log.Debug("event", "event", ev.EventName())
	}
}
