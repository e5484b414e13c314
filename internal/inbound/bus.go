package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("inbound bus closed")

type Observer interface {
	Inbound(action, outcome string)
}

type nopObserver struct{}

func (nopObserver) Inbound(string, string) {}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

type reply struct {
	result Result
	err    error
}

// Bus is an in-process watermill queue with a single consumer, so inbound
// actions reach the engine one at a time.
type Bus struct {
	pubsub   *gochannel.GoChannel
	engine   Engine
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	pending map[string]chan reply
	started bool
	closed  bool
	done    chan struct{}
}

func NewBus(engine Engine, opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	logger := opts.Logger.With("component", "inbound")
	return &Bus{
		pubsub:   gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger)),
		engine:   engine,
		logger:   logger,
		observer: opts.Observer,
		pending:  make(map[string]chan reply),
		done:     make(chan struct{}),
	}
}

// Start subscribes the consumer. Events published before Start are lost.
func (b *Bus) Start(ctx context.Context) error {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	go b.consume(ctx, messages)
	return nil
}

func (b *Bus) consume(ctx context.Context, messages <-chan *message.Message) {
	defer close(b.done)
	for msg := range messages {
		b.handle(ctx, msg)
		msg.Ack()
	}
}

func (b *Bus) handle(ctx context.Context, msg *message.Message) {
	correlationID := middleware.MessageCorrelationID(msg)
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		b.logger.Error("decode inbound event failed", "message_uuid", msg.UUID, "error", err)
		b.resolve(correlationID, reply{err: fmt.Errorf("decode event: %w", err)})
		return
	}

	result, err := b.apply(ctx, ev)
	outcome := "ok"
	switch _, rejected := league.AsRejection(err); {
	case rejected:
		outcome = "rejected"
		b.logger.Info("inbound action rejected", "kind", ev.Kind, "guild_id", ev.GuildID, "user_id", ev.UserID, "reason", err)
	case err != nil:
		outcome = "error"
		b.logger.Error("inbound action failed", "kind", ev.Kind, "guild_id", ev.GuildID, "user_id", ev.UserID, "error", err)
	}
	b.observer.Inbound(string(ev.Kind), outcome)
	b.resolve(correlationID, reply{result: result, err: err})
}

func (b *Bus) apply(ctx context.Context, ev Event) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inbound %s panicked: %v", ev.Kind, r)
		}
	}()
	return Handle(ctx, b.engine, ev)
}

func (b *Bus) resolve(correlationID string, r reply) {
	if correlationID == "" {
		return
	}
	b.mu.Lock()
	ch, ok := b.pending[correlationID]
	delete(b.pending, correlationID)
	b.mu.Unlock()
	if ok {
		ch <- r
	}
}

// Dispatch queues ev and waits for the engine's answer.
func (b *Bus) Dispatch(ctx context.Context, ev Event) (Result, error) {
	correlationID := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, ErrClosed
	}
	b.pending[correlationID] = ch
	b.mu.Unlock()

	if err := b.publish(ev, correlationID); err != nil {
		b.forget(correlationID)
		return Result{}, err
	}
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		b.forget(correlationID)
		return Result{}, ctx.Err()
	}
}

// Publish queues ev without waiting for it to be applied.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.publish(ev, "")
}

func (b *Bus) publish(ev Event, correlationID string) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if correlationID != "" {
		middleware.SetCorrelationID(correlationID, msg)
	}
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("guild_id", ev.GuildID)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

func (b *Bus) forget(correlationID string) {
	b.mu.Lock()
	delete(b.pending, correlationID)
	b.mu.Unlock()
}

// Close stops accepting events and waits for the consumer to finish the
// event in hand.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	started := b.started
	b.mu.Unlock()
	err := b.pubsub.Close()
	if started {
		<-b.done
	}
	return err
}
