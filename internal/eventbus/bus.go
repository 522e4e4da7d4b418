package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// listenTimeout bounds how long a dynamic LISTEN may block when a stream
// gains its channel's first subscriber, grounded on the teacher's
// pkg/events/manager.go listenTimeout.
const listenTimeout = 10 * time.Second

// subscriberBufferSize is generous enough that a slow consumer never causes
// the dispatch goroutine (shared by every stream) to block.
const subscriberBufferSize = 256

// Bus is the per-CR append-only event stream with a replay-then-subscribe,
// no-gap-no-duplicate protocol, grounded on spec.md §4.2 and the teacher's
// pkg/events package (publisher.go persist/notify split, manager.go
// subscribe-then-catchup ordering, listener.go dedicated LISTEN connection).
type Bus struct {
	pub      *Publisher
	listener *NotifyListener

	mu   sync.Mutex
	subs map[string]map[chan []byte]bool // channel -> set of subscriber chans
}

func NewBus(pool *pgxpool.Pool, connString string) *Bus {
	b := &Bus{
		pub:  NewPublisher(pool),
		subs: make(map[string]map[chan []byte]bool),
	}
	b.listener = NewNotifyListener(connString, b)
	return b
}

// Start establishes the dedicated LISTEN connection. Must be called once
// before any StreamFrom call.
func (b *Bus) Start(ctx context.Context) error {
	return b.listener.Start(ctx)
}

func (b *Bus) Stop(ctx context.Context) {
	b.listener.Stop(ctx)
}

// Append persists and broadcasts one event, per spec.md §4.2 append.
func (b *Bus) Append(ctx context.Context, crID string, evt pipeline.Event) (int64, error) {
	return b.pub.Append(ctx, crID, evt)
}

// Dispatch implements Dispatcher: fan one NOTIFY payload out to every live
// subscriber of its channel. Snapshot-then-send, mirroring the teacher's
// Broadcast — never hold the lock while writing to a subscriber channel.
func (b *Bus) Dispatch(channel string, payload []byte) {
	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	chans := make([]chan []byte, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- payload:
		default:
			slog.Warn("event bus subscriber buffer full, dropping notification", "channel", channel)
		}
	}
}

// subscribeRaw registers a buffered channel for live NOTIFY payloads on a
// CR's channel, LISTENing on first subscriber. Returns an unsubscribe func.
func (b *Bus) subscribeRaw(crID string) (chan []byte, func(), error) {
	channel := Channel(crID)
	raw := make(chan []byte, subscriberBufferSize)

	b.mu.Lock()
	needsListen := false
	if _, ok := b.subs[channel]; !ok {
		b.subs[channel] = make(map[chan []byte]bool)
		needsListen = true
	}
	b.subs[channel][raw] = true
	b.mu.Unlock()

	if needsListen {
		listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
		err := b.listener.Subscribe(listenCtx, channel)
		cancel()
		if err != nil {
			b.mu.Lock()
			delete(b.subs[channel], raw)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			return nil, nil, fmt.Errorf("LISTEN on channel %s: %w", channel, err)
		}
	}

	cleanup := func() {
		b.mu.Lock()
		delete(b.subs[channel], raw)
		last := len(b.subs[channel]) == 0
		if last {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		if last {
			go func() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
				defer cancel()
				if err := b.listener.Unsubscribe(unlistenCtx, channel); err != nil {
					slog.Error("UNLISTEN failed", "channel", channel, "error", err)
				}
			}()
		}
	}

	return raw, cleanup, nil
}

// StreamFrom implements spec.md §4.2 stream_from's exact protocol: subscribe
// first (buffering live notifications), then replay read_since(lastSeenID),
// then drain the buffered live events filtering out anything already
// covered by the replay. Subscribing before replay is required — replaying
// first would race events published during the replay window. The returned
// channel closes on context cancellation or on any terminal event.
func (b *Bus) StreamFrom(ctx context.Context, crID string, lastSeenID int64) (<-chan pipeline.Event, error) {
	raw, unsubscribe, err := b.subscribeRaw(crID)
	if err != nil {
		return nil, err
	}

	out := make(chan pipeline.Event, subscriberBufferSize)

	go func() {
		defer close(out)
		defer unsubscribe()

		highestReplayed := lastSeenID
		replayed, err := b.pub.ReadSince(ctx, crID, lastSeenID)
		if err != nil {
			slog.Error("event stream replay failed", "cr_id", crID, "error", err)
			return
		}
		for _, evt := range replayed {
			if evt.SequenceID > highestReplayed {
				highestReplayed = evt.SequenceID
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			if evt.Type.Terminal() {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var evt pipeline.Event
				if err := json.Unmarshal(payload, &evt); err != nil {
					slog.Warn("dropping malformed event notification", "cr_id", crID, "error", err)
					continue
				}
				if evt.SequenceID <= highestReplayed {
					continue // already delivered by the replay pass
				}
				highestReplayed = evt.SequenceID
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if evt.Type.Terminal() {
					return
				}
			}
		}
	}()

	return out, nil
}
