// Package events carries stage-completion events from the recording
// services to the evidence assembler over an embedded NATS server. The
// server runs in-process and never listens on a socket.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// stageSubjectPrefix is followed by <session_id>.<stage>. Session ids
	// are validated to [a-zA-Z0-9_-] before they reach the bus, so they are
	// always legal NATS tokens.
	stageSubjectPrefix = "stage"

	readyTimeout = 5 * time.Second
)

// StageEvent announces that one chain stage was recorded. Record carries
// the marshaled stage payload so subscribers stay decoupled from the
// recording service's types.
type StageEvent struct {
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage"`
	TaskID    string          `json:"task_id"`
	Record    json.RawMessage `json:"record"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Bus is the process-local event fabric. Publishes after Close are
// rejected rather than silently dropped.
type Bus struct {
	srv    *natsserver.Server
	conn   *nats.Conn
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus starts the embedded server and connects to it in-process.
func NewBus(logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &natsserver.Options{
		ServerName: "sessiond-events",
		DontListen: true,
		NoLog:      true,
		NoSigs:     true,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create event server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, errors.New("event server not ready for connections")
	}

	conn, err := nats.Connect("",
		nats.InProcessServer(srv),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("failed to connect to event server: %w", err)
	}

	logger.Info("event bus started", zap.String("server", opts.ServerName))
	return &Bus{
		srv:    srv,
		conn:   conn,
		logger: logger,
	}, nil
}

// PublishStage emits one stage-completion event.
func (b *Bus) PublishStage(ctx context.Context, evt StageEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("event bus is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.SessionID == "" {
		return errors.New("stage event session id is required")
	}
	if evt.Stage == "" {
		return errors.New("stage event stage is required")
	}
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", stageSubjectPrefix, evt.SessionID, evt.Stage)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish stage event: %w", err)
	}
	return nil
}

// SubscribeStages delivers every stage event to handler. Malformed
// payloads are logged and dropped so one bad message cannot wedge the
// subscription.
func (b *Bus) SubscribeStages(handler func(StageEvent)) (*nats.Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.New("event bus is closed")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	subject := stageSubjectPrefix + ".>"
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt StageEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("dropping malformed stage event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush blocks until every published message has reached the server.
func (b *Bus) Flush() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("event bus is closed")
	}
	return b.conn.Flush()
}

// Close disconnects and stops the embedded server. Safe to call twice.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.conn.Close()
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
	b.logger.Info("event bus stopped")
	return nil
}
