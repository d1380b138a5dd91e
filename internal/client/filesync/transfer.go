package filesync

import (
	"context"
	"sync"
)

type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "progress"
	}
}

// Event is one progress report of a transfer.
type Event struct {
	Kind   EventKind
	Done   int64
	Total  int64
	Result Result
	Err    error
}

// Result describes a finished upload. Size and Checksum refer to the
// original, uncompressed bytes.
type Result struct {
	RemoteKey       string
	Size            int64
	Checksum        string
	ContentEncoding string
}

const eventBuffer = 32

// Transfer is a running upload. Events delivers progress reports and exactly
// one terminal event and is then closed.
type Transfer struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newTransfer() *Transfer {
	return &Transfer{events: make(chan Event, eventBuffer), done: make(chan struct{})}
}

func (t *Transfer) Events() <-chan Event { return t.events }

// Wait blocks until the transfer ends or ctx is done.
func (t *Transfer) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// progress drops reports the consumer is too slow for, keeping one slot free
// for the terminal event. There is a single producer per transfer.
func (t *Transfer) progress(done, total int64) {
	if len(t.events) >= cap(t.events)-1 {
		return
	}
	t.events <- Event{Kind: EventProgress, Done: done, Total: total}
}

func (t *Transfer) finish(r Result, err error) {
	t.once.Do(func() {
		t.result, t.err = r, err
		ev := Event{Kind: EventCompleted, Done: r.Size, Total: r.Size, Result: r}
		if err != nil {
			ev = Event{Kind: EventFailed, Err: err}
		}
		t.events <- ev
		close(t.events)
		close(t.done)
	})
}
