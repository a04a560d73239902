package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/middleware"
	"github.com/xraph/floodgate/scope"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, call *middleware.Call, next middleware.Handler) (json.RawMessage, error) {
			order = append(order, name+"-before")
			result, err := next(ctx)
			order = append(order, name+"-after")
			return result, err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	result, err := chain(context.Background(), &middleware.Call{Tool: "t"}, func(ctx context.Context) (json.RawMessage, error) {
		order = append(order, "handler")
		return json.RawMessage(`"ok"`), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(result) != `"ok"` {
		t.Fatalf("result = %s", result)
	}

	want := []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	mw := middleware.Recover(discard())
	_, err := mw(context.Background(), &middleware.Call{Tool: "search"}, func(ctx context.Context) (json.RawMessage, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if !strings.Contains(err.Error(), "search") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestTimeoutEnforcesDeadline(t *testing.T) {
	mw := middleware.Timeout(discard())
	call := &middleware.Call{Tool: "slow", Timeout: 10 * time.Millisecond}

	_, err := mw(context.Background(), call, func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return json.RawMessage(`"late"`), nil
		}
	})
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if floodgate.KindOf(err) != floodgate.KindTimeout {
		t.Fatalf("kind = %v, want KindTimeout", floodgate.KindOf(err))
	}
}

func TestTimeoutZeroIsUnbounded(t *testing.T) {
	mw := middleware.Timeout(discard())
	result, err := mw(context.Background(), &middleware.Call{Tool: "fast"}, func(ctx context.Context) (json.RawMessage, error) {
		if _, ok := ctx.Deadline(); ok {
			return nil, errors.New("unexpected deadline")
		}
		return json.RawMessage(`1`), nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if string(result) != "1" {
		t.Fatalf("result = %s", result)
	}
}

func TestScopeRestoresTenant(t *testing.T) {
	mw := middleware.Scope()
	call := &middleware.Call{Tool: "t", TenantID: "acme"}

	_, err := mw(context.Background(), call, func(ctx context.Context) (json.RawMessage, error) {
		if tenant := scope.TenantFrom(ctx); tenant != "acme" {
			return nil, errors.New("tenant scope not restored")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
}
