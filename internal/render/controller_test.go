package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeRasterizer renders on demand; renders block until released when
// blocking is set, and ignore cancellation unless honorCtx is set, which
// simulates a completion racing its own cancellation.
type fakeRasterizer struct {
	mu       sync.Mutex
	blocking bool
	honorCtx bool
	failWith error
	release  chan struct{}
	calls    int
}

func newFakeRasterizer() *fakeRasterizer {
	return &fakeRasterizer{release: make(chan struct{})}
}

func (f *fakeRasterizer) RenderPage(ctx context.Context, page int, scale float64) (*Raster, error) {
	f.mu.Lock()
	f.calls++
	blocking, honorCtx, failWith := f.blocking, f.honorCtx, f.failWith
	release := f.release
	f.mu.Unlock()

	if blocking {
		if honorCtx {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-release
		}
	}
	if failWith != nil {
		return nil, failWith
	}
	w := int(100 * scale)
	return &Raster{Image: []byte(fmt.Sprintf("p%d@%g", page, scale)), Width: w, Height: w}, nil
}

type fakeTextSource struct{ err error }

func (f *fakeTextSource) PageText(ctx context.Context, page int, scale float64) ([]TextItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []TextItem{{X: 1 * scale, Y: 2 * scale, Text: fmt.Sprintf("text p%d", page)}}, nil
}

func TestRequestRenders(t *testing.T) {
	c := NewController(newFakeRasterizer(), &fakeTextSource{}, zap.NewNop())
	<-c.Request(context.Background(), 1, 1.5)

	st, err := c.StateOf(1)
	if st != StateRendered || err != nil {
		t.Fatalf("state = %v, err = %v", st, err)
	}
	res, ok := c.Result(1)
	if !ok {
		t.Fatal("no result")
	}
	if res.Scale != 1.5 || res.Page != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.TextItems) != 1 {
		t.Errorf("text items = %d, want 1", len(res.TextItems))
	}
}

func TestStaleGenerationDiscarded(t *testing.T) {
	f := newFakeRasterizer()
	f.blocking = true
	c := NewController(f, &fakeTextSource{}, zap.NewNop())

	// Generation 1 blocks inside the rasterizer.
	done1 := c.Request(context.Background(), 1, 1.0)

	// Generation 2 is issued before generation 1 resolves; swap in a fresh
	// non-blocking path for it.
	f.mu.Lock()
	old := f.release
	f.release = make(chan struct{})
	close(f.release)
	f.mu.Unlock()
	done2 := c.Request(context.Background(), 1, 2.0)
	<-done2

	// Now generation 1 "succeeds" late; its result must not be applied.
	close(old)
	<-done1

	res, ok := c.Result(1)
	if !ok {
		t.Fatal("no result")
	}
	if res.Scale != 2.0 {
		t.Errorf("stale generation overwrote result: scale = %g, want 2.0", res.Scale)
	}
	if st, _ := c.StateOf(1); st != StateRendered {
		t.Errorf("state = %v", st)
	}
}

func TestCancellationIsNotFailure(t *testing.T) {
	f := newFakeRasterizer()
	f.blocking = true
	f.honorCtx = true
	c := NewController(f, &fakeTextSource{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := c.Request(ctx, 3, 1.0)
	cancel()
	<-done

	if st, err := c.StateOf(3); st == StateFailed || err != nil {
		t.Errorf("cancellation surfaced as failure: state = %v, err = %v", st, err)
	}
}

func TestRenderFailureIsPerPage(t *testing.T) {
	f := newFakeRasterizer()
	f.failWith = errors.New("decode error")
	c := NewController(f, &fakeTextSource{}, zap.NewNop())
	<-c.Request(context.Background(), 2, 1.0)

	st, err := c.StateOf(2)
	if st != StateFailed || err == nil {
		t.Fatalf("state = %v, err = %v", st, err)
	}
	// Other pages are unaffected.
	if st, _ := c.StateOf(1); st != StateIdle {
		t.Errorf("page 1 state = %v, want idle", st)
	}

	// A retry after the failure clears recovers the page.
	f.mu.Lock()
	f.failWith = nil
	f.mu.Unlock()
	<-c.Request(context.Background(), 2, 1.0)
	if st, _ := c.StateOf(2); st != StateRendered {
		t.Errorf("after retry: state = %v", st)
	}
}

func TestTextLayerFailureFailsRender(t *testing.T) {
	c := NewController(newFakeRasterizer(), &fakeTextSource{err: errors.New("bad xref")}, zap.NewNop())
	<-c.Request(context.Background(), 1, 1.0)
	if st, _ := c.StateOf(1); st != StateFailed {
		t.Errorf("state = %v, want failed", st)
	}
}

func TestUnmountDropsInFlight(t *testing.T) {
	f := newFakeRasterizer()
	f.blocking = true
	c := NewController(f, &fakeTextSource{}, zap.NewNop())

	done := c.Request(context.Background(), 5, 1.0)
	c.Unmount(5)
	close(f.release)
	<-done

	if _, ok := c.Result(5); ok {
		t.Error("result applied after unmount")
	}
	if st, _ := c.StateOf(5); st != StateIdle {
		t.Errorf("state = %v, want idle after unmount", st)
	}
}

func TestInvalidateResetsPages(t *testing.T) {
	c := NewController(newFakeRasterizer(), &fakeTextSource{}, zap.NewNop())
	<-c.Request(context.Background(), 1, 1.0)
	<-c.Request(context.Background(), 2, 1.0)

	c.Invalidate()
	for _, page := range []int{1, 2} {
		if st, _ := c.StateOf(page); st != StateIdle {
			t.Errorf("page %d state = %v, want idle", page, st)
		}
		if _, ok := c.Result(page); ok {
			t.Errorf("page %d kept result after invalidate", page)
		}
	}
}

func TestTargetRegistry(t *testing.T) {
	c := NewController(newFakeRasterizer(), &fakeTextSource{}, zap.NewNop())
	c.Mount(1, "canvas-1")
	got, ok := c.TargetOf(1)
	if !ok || got != "canvas-1" {
		t.Errorf("TargetOf(1) = %v, %v", got, ok)
	}
	c.Unmount(1)
	if _, ok := c.TargetOf(1); ok {
		t.Error("target survives unmount")
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	c := NewController(newFakeRasterizer(), &fakeTextSource{}, zap.NewNop(),
		WithObserver(func(page int, st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}))
	<-c.Request(context.Background(), 1, 1.0)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("observer never saw both transitions")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if states[0] != StateRendering || states[len(states)-1] != StateRendered {
		t.Errorf("transitions = %v", states)
	}
}
