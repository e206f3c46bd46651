package relay

import (
	"context"
	"io"
	"sync"
)

// TokenStream is the contract between the relay and an upstream token
// producer: a finite, non-restartable sequence of text fragments. Next
// returns io.EOF after the last fragment.
type TokenStream interface {
	Next(ctx context.Context) (string, error)
}

type streamItem struct {
	token string
	err   error
}

// BlockingStream bridges a blocking, non-cooperative producer onto the
// relay's flow. The producer runs on its own goroutine and hands fragments
// through a capacity-1 channel, so it naturally blocks until the consumer
// has taken the previous fragment. Cancelling the consumer closes done,
// which unblocks the producer goroutine wherever it is parked.
type BlockingStream struct {
	items     chan streamItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewBlockingStream starts produce on a new goroutine. produce must call
// emit for every fragment and stop as soon as emit returns false; its
// return value terminates the stream (nil maps to io.EOF).
func NewBlockingStream(produce func(emit func(token string) bool) error) *BlockingStream {
	s := &BlockingStream{
		items: make(chan streamItem, 1),
		done:  make(chan struct{}),
	}
	go func() {
		err := produce(func(token string) bool {
			select {
			case s.items <- streamItem{token: token}:
				return true
			case <-s.done:
				return false
			}
		})
		if err == nil {
			err = io.EOF
		}
		select {
		case s.items <- streamItem{err: err}:
		case <-s.done:
		}
	}()
	return s
}

func (s *BlockingStream) Next(ctx context.Context) (string, error) {
	select {
	case it := <-s.items:
		if it.err != nil {
			return "", it.err
		}
		return it.token, nil
	case <-ctx.Done():
		s.Close()
		return "", ctx.Err()
	case <-s.done:
		return "", io.EOF
	}
}

// Close signals the producer goroutine to stop. Safe to call more than once
// and from any goroutine.
func (s *BlockingStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
