package tools

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

type countingTool struct {
	name  string
	calls atomic.Int64
}

func (c *countingTool) Name() string { return c.name }

func (c *countingTool) Definition() Definition {
	return Definition{Name: c.name, Description: "d", Category: "test"}
}

func (c *countingTool) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	c.calls.Add(1)
	return map[string]any{"tool": c.name}, nil
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		&countingTool{name: "route.plan"},
		&countingTool{name: "calendar.create"},
		&countingTool{name: "expense.log"},
	)
	got := r.Names()
	want := []string{"calendar.create", "expense.log", "route.plan"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistrySkipsNilAndResolvesCollisions(t *testing.T) {
	t.Parallel()

	first := &countingTool{name: "calendar.create"}
	second := &countingTool{name: "calendar.create"}
	r := NewRegistry(first, nil, second)

	if len(r.Names()) != 1 {
		t.Fatalf("names = %v, want one entry", r.Names())
	}
	ex, ok := r.Get("calendar.create")
	if !ok || ex != second {
		t.Fatal("later executor should win the name collision")
	}
}

func TestRegistryNilSafe(t *testing.T) {
	t.Parallel()

	var r *Registry
	if r.Has("anything") {
		t.Error("nil registry reported a tool")
	}
	if _, ok := r.Get("anything"); ok {
		t.Error("nil registry returned an executor")
	}
	if r.Names() != nil || r.Definitions() != nil {
		t.Error("nil registry returned a catalog")
	}
}

func TestRegistryTrimsLookupNames(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&countingTool{name: "calendar.create"})
	if !r.Has(" calendar.create ") {
		t.Error("padded name not found")
	}
}

// One registry serves every live session. Hammer a shared dispatcher from
// many goroutines and check each result still pairs to its own invocation.
func TestConcurrentDispatchSharesRegistry(t *testing.T) {
	t.Parallel()

	calendar := &countingTool{name: "calendar.create"}
	expense := &countingTool{name: "expense.log"}
	d := testDispatcher(NewRegistry(calendar, expense), 0)

	const goroutines = 16
	const perGoroutine = 25

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := fmt.Sprintf("inv_%d_%d", g, i)
				name := "calendar.create"
				if i%2 == 1 {
					name = "expense.log"
				}
				if i%5 == 4 {
					name = "no.such.tool"
				}
				res := d.Dispatch(context.Background(), types.ToolInvocation{ID: id, Name: name}, types.RuntimeContext{})
				if res.InvocationID != id {
					errCh <- fmt.Errorf("result for %q paired to %q", id, res.InvocationID)
					return
				}
				if name == "no.such.tool" {
					if res.Success || res.Error != "unknown_tool" {
						errCh <- fmt.Errorf("unknown tool result = %+v", res)
						return
					}
					continue
				}
				if !res.Success {
					errCh <- fmt.Errorf("dispatch %q failed: %s", id, res.Error)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	wantEach := int64(goroutines * perGoroutine / 5 * 2)
	if got := calendar.calls.Load() + expense.calls.Load(); got != wantEach*2 {
		t.Fatalf("executed %d calls, want %d", got, wantEach*2)
	}
}
