package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/middleware"
)

func testAttempt() *middleware.Attempt {
	return &middleware.Attempt{
		JobID:  id.NewJobID(),
		Kind:   job.Kind("create"),
		Item:   job.Item{Key: "site1.example.com"},
		Number: 1,
		Max:    3,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChain_OrderIsOutsideIn(t *testing.T) {
	var order []string
	mw := func(name string) middleware.Middleware {
		return func(ctx context.Context, a *middleware.Attempt, next middleware.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := middleware.Chain(mw("outer"), mw("inner"))
	err := chain(context.Background(), testAttempt(), func(ctx context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), testAttempt(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	mw := middleware.Recover(discard())

	err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if got := err.Error(); got != "panic processing site1.example.com: boom" {
		t.Errorf("error = %q", got)
	}
}

func TestRecover_PassesThroughErrors(t *testing.T) {
	mw := middleware.Recover(discard())
	sentinel := errors.New("plain failure")

	err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	mw := middleware.Timeout(20 * time.Millisecond)

	err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestTimeout_ZeroDisablesDeadline(t *testing.T) {
	mw := middleware.Timeout(0)

	err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mw: %v", err)
	}
}

func TestLogging_ReturnsHandlerError(t *testing.T) {
	mw := middleware.Logging(discard())
	sentinel := errors.New("attempt refused")

	if err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if err := mw(context.Background(), testAttempt(), func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}
