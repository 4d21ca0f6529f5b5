package locker

import (
	"context"
)

// Callbacks observe an async operation. Every field may be nil. They run
// on the operation's goroutine, except the first OnStatus(ProcessInQueue),
// which runs before EncodeAsync or DecodeAsync returns.
type Callbacks struct {
	OnStatus func(item *Item, status Status)
	OnError  func(item *Item, err error, message string)
	OnDone   func(item *Item)
}

// EncodeAsync queues item for encoding and returns at once. The channel
// receives the result, then closes.
func (m *Manager) EncodeAsync(ctx context.Context, item *Item, args Args, cb Callbacks) <-chan error {
	return m.dispatch(ctx, item, args, cb, m.encode)
}

// DecodeAsync queues item for decoding and returns at once.
func (m *Manager) DecodeAsync(ctx context.Context, item *Item, args Args, cb Callbacks) <-chan error {
	return m.dispatch(ctx, item, args, cb, m.decode)
}

type runFunc func(ctx context.Context, item *Item, args Args) error

func (m *Manager) dispatch(ctx context.Context, item *Item, args Args, cb Callbacks, run runFunc) <-chan error {
	result := make(chan error, 1)
	m.transition(item, ProcessInQueue, nil, cb.OnStatus)

	go func() {
		defer close(result)

		err := m.acquire(ctx)
		if err != nil {
			m.transition(item, ProcessFailed, err, cb.OnStatus)
		} else {
			err = m.process(item, cb.OnStatus, func() error {
				return run(ctx, item, args)
			})
			m.release()
		}

		if err != nil {
			if cb.OnError != nil {
				cb.OnError(item, err, UserMessage(err))
			}
		} else if cb.OnDone != nil {
			cb.OnDone(item)
		}
		result <- err
	}()

	return result
}

// acquire waits for a free slot or for ctx to end.
func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

func (m *Manager) release() {
	<-m.slots
}
