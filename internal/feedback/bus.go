// internal/feedback/bus.go
package feedback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind categorizes messages on the feedback bus.
type Kind string

const (
	KindState  Kind = "STATE"  // Selection/editing state transitions
	KindError  Kind = "ERROR"  // Recoverable failures shown to the user
	KindInfo   Kind = "INFO"   // Transient, dismissible notices
	KindChange Kind = "CHANGE" // Committed changes
)

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string
	Timestamp time.Time
	Kind      Kind
	Payload   interface{}
}

// Transition is the payload of KindState messages.
type Transition struct {
	From string
	To   string
}

// Notice is the payload of KindError and KindInfo messages.
type Notice struct {
	Text string
	Err  error
}

// Bus delivers feedback from the engine to the UI. Posting never blocks: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	logger *zap.Logger

	subscribers map[Kind][]chan Message
	mu          sync.RWMutex
	bufferSize  int
	dropped     atomic.Int64

	// Tracks in-flight Post calls so Shutdown never closes a channel mid-send.
	activePostsWg sync.WaitGroup

	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewBus initializes the bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		logger:      logger.Named("feedback_bus"),
		subscribers: make(map[Kind][]chan Message),
		bufferSize:  bufferSize,
	}
}

// Post publishes payload to every subscriber of kind.
func (b *Bus) Post(ctx context.Context, kind Kind, payload interface{}) error {
	// 1. Check shutdown state and register the post.
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post message: feedback bus is shut down")
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}

	// 2. Copy subscribers so no lock is held during delivery.
	b.mu.RLock()
	subs := append([]chan Message(nil), b.subscribers[kind]...)
	b.mu.RUnlock()

	// 3. Deliver without blocking.
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Subscriber buffer full; dropping feedback message.",
				zap.String("kind", string(kind)), zap.String("id", msg.ID))
		}
	}
	return nil
}

// Subscribe returns a channel receiving the given kinds and a function that
// stops delivery to it.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Message, func()) {
	b.shutdownMu.Lock()
	shut := b.isShutdown
	b.shutdownMu.Unlock()
	if shut {
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}
	if len(kinds) == 0 {
		panic("must subscribe to at least one message kind")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, b.bufferSize)
	subscribed := append([]Kind(nil), kinds...)
	for _, k := range subscribed {
		b.subscribers[k] = append(b.subscribers[k], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, k := range subscribed {
				subs := b.subscribers[k]
				for i, c := range subs {
					if c == ch {
						b.subscribers[k] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
				if len(b.subscribers[k]) == 0 {
					delete(b.subscribers, k)
				}
			}
		})
	}
	return ch, unsubscribe
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		b.activePostsWg.Wait()

		b.mu.Lock()
		unique := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		b.subscribers = make(map[Kind][]chan Message)
		b.mu.Unlock()

		b.logger.Debug("Feedback bus shut down.", zap.Int64("dropped", b.dropped.Load()))
	})
}
