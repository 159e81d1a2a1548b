// Package redisfeed carries change notifications over Redis pub/sub. Publisher announces
// every successful write of the wrapped store; Subscriber implements remote.Feed on top of
// a single pattern subscription.
package redisfeed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bookshelf/internal/remote"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Prefix of the per-collection pub/sub channels
const Prefix = "remote_changes:"

// Config defines fields used for parsing from environment variables
type Config struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// NewClient returns a client for cfg
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Channel returns the pub/sub channel of collection
func Channel(collection string) string {
	return Prefix + collection
}

// Publisher wraps a remote.Store and publishes an event after every successful write
type Publisher struct {
	remote.Store
	logger *zap.SugaredLogger
	client redis.UniversalClient
}

// NewPublisher returns a Publisher writing through store
func NewPublisher(logger *zap.SugaredLogger, store remote.Store, client redis.UniversalClient) *Publisher {
	return &Publisher{Store: store, logger: logger, client: client}
}

// Insert implements remote.Store
func (p *Publisher) Insert(ctx context.Context, collection string, row remote.Row) (remote.Row, error) {
	out, err := p.Store.Insert(ctx, collection, row)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, remote.Event{Collection: collection, Type: remote.Insert, Record: out})
	return out, nil
}

// Update implements remote.Store
func (p *Publisher) Update(ctx context.Context, collection, id string, row remote.Row) (remote.Row, error) {
	out, err := p.Store.Update(ctx, collection, id, row)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, remote.Event{Collection: collection, Type: remote.Update, Record: out})
	return out, nil
}

// UpdateWhere implements remote.Store
func (p *Publisher) UpdateWhere(ctx context.Context, collection, id string, cond remote.Filter, row remote.Row) (remote.Row, error) {
	out, err := p.Store.UpdateWhere(ctx, collection, id, cond, row)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, remote.Event{Collection: collection, Type: remote.Update, Record: out})
	return out, nil
}

// publish failures are logged only: the write itself succeeded
func (p *Publisher) publish(ctx context.Context, e remote.Event) {
	if err := p.client.Publish(ctx, Channel(e.Collection), remote.EncodeEvent(e)).Err(); err != nil {
		p.logger.Errorf("Publishing %s on %s: %v", e.Type, e.Collection, err)
	}
}

// Subscriber implements remote.Feed over a pattern subscription to every collection channel
type Subscriber struct {
	logger *zap.SugaredLogger
	client redis.UniversalClient
	hub    *remote.Hub

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewSubscriber returns a Subscriber that is not subscribed yet
func NewSubscriber(logger *zap.SugaredLogger, client redis.UniversalClient) *Subscriber {
	return &Subscriber{
		logger: logger,
		client: client,
		hub:    remote.NewHub(),
	}
}

// Start subscribes to every collection channel and starts dispatching messages
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil
	}

	ps := s.client.PSubscribe(ctx, Prefix+"*")
	// wait for the subscription to be confirmed so no message published afterwards is lost
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("psubscribe %s*: %w", Prefix, err)
	}

	s.hub.Reopen()
	s.pubsub = ps
	s.done = make(chan struct{})
	go s.run(ps.Channel(), s.done)

	s.logger.Infof("Subscribed to %s*", Prefix)

	return nil
}

func (s *Subscriber) run(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	// the channel is closed when the pubsub is, whatever the reason
	defer s.hub.Shutdown()

	var p fastjson.Parser
	for msg := range messages {
		e, err := remote.DecodeEvent(&p, []byte(msg.Payload))
		if err != nil {
			s.logger.Errorf("Decoding message on %s: %v", msg.Channel, err)
			continue
		}
		if want := strings.TrimPrefix(msg.Channel, Prefix); want != e.Collection {
			s.logger.Errorf("Message for %s published on %s", e.Collection, msg.Channel)
			continue
		}

		delivered := s.hub.Dispatch(e)
		s.logger.Debugf("Message %s on %s delivered to %d channels", e.Type, e.Collection, delivered)
	}
}

// Subscribe implements remote.Feed
func (s *Subscriber) Subscribe(ctx context.Context, sub remote.Subscription, fn func(remote.Event)) (remote.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.Add(sub, fn)
}

// Close unsubscribes and drops every channel
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub == nil {
		return nil
	}

	err := s.pubsub.Close()
	<-s.done
	s.pubsub = nil

	return err
}
