package storage

import (
	"context"
	"fmt"
	"sync"

	"bookshelf/internal/remote"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// NotifyChannel is the NOTIFY channel written by the notify_remote_change trigger
const NotifyChannel = "remote_changes"

// Listener implements remote.Feed over LISTEN/NOTIFY on one dedicated connection
type Listener struct {
	logger *zap.SugaredLogger
	hub    *remote.Hub

	mu     sync.Mutex
	conn   *pgxpool.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener returns a Listener that is not listening yet
func NewListener(logger *zap.SugaredLogger) *Listener {
	return &Listener{
		logger: logger,
		hub:    remote.NewHub(),
	}
}

// Start takes a connection out of the store's pool, issues LISTEN on it and starts
// dispatching notifications until Close or a connection failure
func (l *Listener) Start(ctx context.Context, s *Store) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	l.hub.Reopen()
	runCtx, cancel := context.WithCancel(context.Background())
	l.conn = conn
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx, conn, l.done)

	l.logger.Infof("Listening for changes on %s", NotifyChannel)

	return nil
}

func (l *Listener) run(ctx context.Context, conn *pgxpool.Conn, done chan struct{}) {
	defer close(done)

	var p fastjson.Parser
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// channels stop silently, view models keep their last state
				l.logger.Errorf("Waiting for notification: %v", err)
				l.hub.Shutdown()
			}
			return
		}

		e, err := remote.DecodeEvent(&p, []byte(n.Payload))
		if err != nil {
			l.logger.Errorf("Decoding notification: %v", err)
			continue
		}

		delivered := l.hub.Dispatch(e)
		l.logger.Debugf("Notification %s on %s delivered to %d channels", e.Type, e.Collection, delivered)
	}
}

// Subscribe implements remote.Feed
func (l *Listener) Subscribe(ctx context.Context, sub remote.Subscription, fn func(remote.Event)) (remote.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.hub.Add(sub, fn)
}

// Close stops listening and returns the connection to the pool
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return
	}

	l.cancel()
	<-l.done
	l.hub.Shutdown()
	l.conn.Release()
	l.conn = nil
}
