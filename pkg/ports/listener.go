package ports

import (
	"github.com/user/videodec/pkg/codec"
)

// Listener receives completion and error notifications from a decode
// component. Callbacks are invoked on the component's worker; the
// listener must not call back into the component synchronously.
type Listener interface {
	// OnWorkDone delivers finished work items, each carrying its
	// terminal result and exactly one output slot.
	OnWorkDone(items []*codec.WorkItem)

	// OnError reports a fatal component error.
	OnError(status codec.Status)
}
