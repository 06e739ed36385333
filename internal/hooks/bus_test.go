package hooks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestBus_Subscribe(t *testing.T) {
	b := NewBus(nil)

	called := false
	id := b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		called = true
		return nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}
	if b.SubscriberCount(string(EventCommand)) != 1 {
		t.Errorf("expected 1 handler, got %d", b.SubscriberCount(string(EventCommand)))
	}

	if err := b.Publish(context.Background(), NewEvent(EventCommand, "")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(nil)

	id := b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		return nil
	})

	if !b.Unsubscribe(id) {
		t.Error("expected Unsubscribe to return true")
	}
	if b.SubscriberCount(string(EventCommand)) != 0 {
		t.Errorf("expected 0 handlers after unsubscribe, got %d", b.SubscriberCount(string(EventCommand)))
	}
	if b.Unsubscribe(id) {
		t.Error("expected Unsubscribe to return false for already-removed handler")
	}
}

func TestBus_SubscriptionOrder(t *testing.T) {
	b := NewBus(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		b.Subscribe(string(EventCommandCompletion), func(ctx context.Context, e *Event) error {
			order = append(order, i)
			return nil
		})
	}

	if err := b.Publish(context.Background(), NewEvent(EventCommandCompletion, "")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected order [1 2 3], got %v", order)
	}
}

func TestBus_Priority(t *testing.T) {
	b := NewBus(nil)

	var order []int
	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		order = append(order, 2)
		return nil
	}, WithPriority(PriorityNormal))
	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		order = append(order, 1)
		return nil
	}, WithPriority(PriorityHigh))
	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		order = append(order, 3)
		return nil
	}, WithPriority(PriorityLow))

	b.Publish(context.Background(), NewEvent(EventCommand, ""))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected order [1 2 3], got %v", order)
	}
}

func TestBus_SpecificAction(t *testing.T) {
	b := NewBus(nil)

	var generalCalled, specificCalled bool
	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		generalCalled = true
		return nil
	})
	b.Subscribe(string(EventCommand)+":greet", func(ctx context.Context, e *Event) error {
		specificCalled = true
		return nil
	})

	b.Publish(context.Background(), NewEvent(EventCommand, "greet"))
	if !generalCalled || !specificCalled {
		t.Errorf("general=%v specific=%v, want both called", generalCalled, specificCalled)
	}

	generalCalled, specificCalled = false, false
	b.Publish(context.Background(), NewEvent(EventCommand, "ping"))
	if !generalCalled {
		t.Error("general handler should have been called for other action")
	}
	if specificCalled {
		t.Error("specific handler should NOT have been called for other action")
	}
}

func TestBus_ErrorHandling(t *testing.T) {
	b := NewBus(nil)

	expectedErr := errors.New("test error")
	var secondCalled bool

	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		return expectedErr
	})
	b.Subscribe(string(EventCommand), func(ctx context.Context, e *Event) error {
		secondCalled = true
		return nil
	})

	err := b.Publish(context.Background(), NewEvent(EventCommand, ""))
	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if !secondCalled {
		t.Error("second handler should have been called despite first error")
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	b := NewBus(nil)

	var secondCalled bool
	b.Subscribe(string(EventCommandError), func(ctx context.Context, e *Event) error {
		panic("test panic")
	})
	b.Subscribe(string(EventCommandError), func(ctx context.Context, e *Event) error {
		secondCalled = true
		return nil
	})

	err := b.Publish(context.Background(), NewEvent(EventCommandError, "").WithError(errors.New("boom")))
	if err == nil || !strings.Contains(err.Error(), "test panic") {
		t.Errorf("expected panic error, got %v", err)
	}
	if !secondCalled {
		t.Error("second handler should have been called despite panic")
	}
}

func TestBus_NilEvent(t *testing.T) {
	b := NewBus(nil)
	if err := b.Publish(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestBus_DefaultErrorReporter(t *testing.T) {
	var buf bytes.Buffer
	b := NewBus(nil, WithDiagnostics(&buf))

	cause := pkgerrors.New("handler exploded")
	event := NewEvent(EventCommandError, "parent child").WithError(cause)
	if err := b.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"parent child", "handler exploded", "TestBus_DefaultErrorReporter"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBus_DefaultReporterSkippedWithSubscriber(t *testing.T) {
	var buf bytes.Buffer
	b := NewBus(nil, WithDiagnostics(&buf))

	var got error
	b.Subscribe(string(EventCommandError), func(ctx context.Context, e *Event) error {
		got = e.Error
		return nil
	})

	cause := errors.New("boom")
	b.Publish(context.Background(), NewEvent(EventCommandError, "x").WithError(cause))

	if got != cause {
		t.Errorf("subscriber got %v, want %v", got, cause)
	}
	if buf.Len() != 0 {
		t.Errorf("default reporter should stay silent, wrote %q", buf.String())
	}
}

func TestBus_DefaultReporterOnlyForCommandError(t *testing.T) {
	var buf bytes.Buffer
	b := NewBus(nil, WithDiagnostics(&buf))

	b.Publish(context.Background(), NewEvent(EventExtensionLoad, "core").WithError(errors.New("x")))
	if buf.Len() != 0 {
		t.Errorf("reporter should ignore %s, wrote %q", EventExtensionLoad, buf.String())
	}
}

func TestBus_WithFallback(t *testing.T) {
	var got []string
	b := NewBus(nil, WithFallback(func(_ context.Context, e *Event) error {
		got = append(got, e.Action)
		return nil
	}))
	b.Publish(context.Background(), NewEvent(EventCommandError, "ping").WithError(errors.New("x")))
	if len(got) != 1 || got[0] != "ping" {
		t.Errorf("fallback saw %v, want [ping]", got)
	}

	silent := NewBus(nil, WithFallback(nil))
	if err := silent.Publish(context.Background(), NewEvent(EventCommandError, "ping").WithError(errors.New("x"))); err != nil {
		t.Errorf("Publish() without fallback error = %v", err)
	}
}

func TestBus_UnsubscribeSource(t *testing.T) {
	b := NewBus(nil)
	noop := func(ctx context.Context, e *Event) error { return nil }

	b.Subscribe(string(EventCommand), noop, WithSource("ext.music"))
	b.Subscribe(string(EventCommandError), noop, WithSource("ext.music"))
	b.Subscribe(string(EventCommand), noop, WithSource("ext.admin"))

	if n := b.UnsubscribeSource("ext.music"); n != 2 {
		t.Errorf("UnsubscribeSource() = %d, want 2", n)
	}
	if b.SubscriberCount(string(EventCommand)) != 1 {
		t.Errorf("expected 1 remaining command handler, got %d", b.SubscriberCount(string(EventCommand)))
	}
	if b.SubscriberCount(string(EventCommandError)) != 0 {
		t.Errorf("expected no command_error handlers, got %d", b.SubscriberCount(string(EventCommandError)))
	}
}
