package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// NewErrorReporter returns the default command_error handler. It prints the
// failing command, the type of the innermost error and the full "%+v"
// rendering, which includes the stack when the error carries one.
func NewErrorReporter(w io.Writer) Handler {
	var mu sync.Mutex
	return func(_ context.Context, event *Event) error {
		if event == nil || event.Error == nil {
			return nil
		}
		command := event.Action
		if command == "" {
			command = "<unknown>"
		}

		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(w, "Ignoring error in command %s (%T):\n%+v\n", command, rootCause(event.Error), event.Error)
		return err
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
