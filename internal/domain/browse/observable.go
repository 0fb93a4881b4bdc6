package browse

import (
	"context"
	"sync"
)

// Observable holds the latest Result of a screen and fans it out to
// subscribers.
//
// Subscribers get latest-value semantics: each subscription channel buffers a
// single value, and a newer value replaces an unread older one. A slow
// subscriber may miss intermediate states but always observes the last one.
type Observable[T any] struct {
	mu      sync.Mutex
	current Result[T]
	subs    map[chan Result[T]]struct{}
}

// Current returns the latest published result.
func (o *Observable[T]) Current() Result[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Subscribe returns a channel that immediately receives the current result
// and then every newly published one. The channel is closed when ctx is done.
func (o *Observable[T]) Subscribe(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)

	o.mu.Lock()
	if o.subs == nil {
		o.subs = make(map[chan Result[T]]struct{})
	}
	o.subs[ch] = struct{}{}
	ch <- o.current
	o.mu.Unlock()

	context.AfterFunc(ctx, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, ch)
		close(ch)
	})
	return ch
}

func (o *Observable[T]) publish(r Result[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.current = r
	for ch := range o.subs {
		select {
		case ch <- r:
		default:
			// Drop the unread value; only publish writes to ch and we hold mu.
			select {
			case <-ch:
			default:
			}
			ch <- r
		}
	}
}
