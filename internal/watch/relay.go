package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"aquarium-dashboard/pkg/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Transport carries encoded changes between dashboard instances.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe returns a channel of payloads that is closed when ctx ends or the
	// subscription fails.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// RedisTransport implements Transport over a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
	owned   bool // Client was created by DialRedisTransport and is closed with it
}

// NewRedisTransport creates a transport on channel over a client owned by the caller.
func NewRedisTransport(client *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

// DialRedisTransport creates a transport with its own client, released by Close.
func DialRedisTransport(opts *redis.Options, channel string) *RedisTransport {
	return &RedisTransport{client: redis.NewClient(opts), channel: channel, owned: true}
}

// Close releases the client if the transport created it.
func (t *RedisTransport) Close() error {
	if !t.owned {
		return nil
	}
	return t.client.Close()
}

// Publish sends payload to the channel.
func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

// Subscribe starts receiving from the channel.
func (t *RedisTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := t.client.Subscribe(ctx, t.channel)

	// Make sure the subscription is live before reporting success
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Relay mirrors local bus changes to other instances and re-publishes their changes
// locally as external.
type Relay struct {
	transport Transport
	bus       *events.Bus
	origin    string
	log       zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a relay. origin must be unique per process; it is how the relay
// recognises its own messages coming back.
func NewRelay(transport Transport, bus *events.Bus, origin string, log zerolog.Logger) *Relay {
	return &Relay{transport: transport, bus: bus, origin: origin, log: log}
}

// Start subscribes to the transport and begins forwarding in both directions.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	incoming, err := r.transport.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	local, unsubscribe := r.bus.Subscribe(64)
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()
		r.forwardLocal(ctx, local)
	}()
	go func() {
		defer r.wg.Done()
		r.forwardRemote(ctx, incoming)
	}()

	r.log.Info().Str("origin", r.origin).Msg("Change relay started")
	return nil
}

// Stop cancels both forwarders and waits for them.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// Close stops the relay and releases the transport when it holds resources.
func (r *Relay) Close() error {
	r.Stop()
	if c, ok := r.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Relay) forwardLocal(ctx context.Context, local <-chan events.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-local:
			if !ok {
				return
			}
			// Only changes made by this process go out; external ones came from somewhere else
			if c.External || c.Origin != r.origin {
				continue
			}
			payload, err := json.Marshal(c)
			if err != nil {
				r.log.Error().Err(err).Msg("Failed to encode change")
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.transport.Publish(pubCtx, payload); err != nil {
				r.log.Warn().Err(err).Str("key", c.Key).Msg("Failed to relay change")
			}
			cancel()
		}
	}
}

func (r *Relay) forwardRemote(ctx context.Context, incoming <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-incoming:
			if !ok {
				return
			}
			var c events.Change
			if err := json.Unmarshal(payload, &c); err != nil {
				r.log.Warn().Err(err).Msg("Bad relay payload")
				continue
			}
			if c.Origin == r.origin {
				continue
			}
			c.External = true
			r.bus.Publish(c)
		}
	}
}
