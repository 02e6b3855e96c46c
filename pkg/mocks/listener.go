package mocks

import (
	"sync"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// Listener is a mock implementation of ports.Listener recording every
// notification. It is safe to inspect from the test goroutine.
type Listener struct {
	mu sync.Mutex

	// Batches records each OnWorkDone call.
	Batches [][]*codec.WorkItem
	// Errors records each OnError call.
	Errors []codec.Status
}

func (l *Listener) OnWorkDone(items []*codec.WorkItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Batches = append(l.Batches, items)
}

func (l *Listener) OnError(status codec.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, status)
}

// Done returns all reported items flattened in report order.
func (l *Listener) Done() []*codec.WorkItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	var items []*codec.WorkItem
	for _, batch := range l.Batches {
		items = append(items, batch...)
	}
	return items
}

// ErrorCount returns the number of reported errors.
func (l *Listener) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

var _ ports.Listener = (*Listener)(nil)
