package dispatch_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/instacam/dispatch"
)

type handler struct {
	name     string
	calls    int
	released int
	fail     error
}

func (h *handler) Release() { h.released++ }

func record(log *[]string) func(*handler) error {
	return func(h *handler) error {
		h.calls++
		*log = append(*log, h.name)
		return h.fail
	}
}

func TestDispatchOrderFollowsRegistration(t *testing.T) {
	r := dispatch.New[*handler](dispatch.AbortOnError)
	a, b, c := &handler{name: "a"}, &handler{name: "b"}, &handler{name: "c"}
	r.Register(c, dispatch.Append, dispatch.CallerOwns)
	r.Register(a, dispatch.ReplaceAll, dispatch.CallerOwns)
	r.Register(b, dispatch.Append, dispatch.CallerOwns)
	r.Register(c, dispatch.Append, dispatch.CallerOwns)

	var got []string
	if err := r.Dispatch(record(&got)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceAllThenAppendsInvokesExactlyN(t *testing.T) {
	for n := 1; n <= 5; n++ {
		r := &dispatch.Registry[*handler]{}
		// junk left over from an earlier configuration
		r.Register(&handler{name: "old"}, dispatch.Append, dispatch.CallerOwns)
		r.Register(&handler{name: "older"}, dispatch.Append, dispatch.CallerOwns)

		hs := make([]*handler, n)
		for i := range hs {
			hs[i] = &handler{name: string(rune('a' + i))}
		}
		r.Register(hs[0], dispatch.ReplaceAll, dispatch.CallerOwns)
		for _, h := range hs[1:] {
			r.Register(h, dispatch.Append, dispatch.CallerOwns)
		}
		var got []string
		r.Dispatch(record(&got))
		if len(got) != n {
			t.Errorf("n=%d: expected %d invocations, got %d (%v)", n, n, len(got), got)
		}
	}
}

func TestDuplicateAppendInvokesTwice(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	h := &handler{name: "dup"}
	r.Register(h, dispatch.Append, dispatch.CallerOwns)
	r.Register(h, dispatch.Append, dispatch.CallerOwns)
	var got []string
	r.Dispatch(record(&got))
	if h.calls != 2 {
		t.Errorf("expected duplicate registration to be called twice, got %d", h.calls)
	}
	if !r.Contains(h) {
		t.Error("expected Contains to find the handler")
	}
}

func TestDeregisterUnknownIsNoop(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	a := &handler{name: "a"}
	r.Register(a, dispatch.Append, dispatch.RegistryOwns)
	if r.Deregister(&handler{name: "stranger"}) {
		t.Error("deregistering an unregistered handler reported a removal")
	}
	if r.Len() != 1 {
		t.Errorf("expected registry to be untouched, len=%d", r.Len())
	}
	if a.released != 0 {
		t.Error("untouched handler was released")
	}
}

func TestDeregisterRemovesOneEntry(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	a := &handler{name: "a"}
	r.Register(a, dispatch.Append, dispatch.CallerOwns)
	r.Register(a, dispatch.Append, dispatch.CallerOwns)
	if !r.Deregister(a) {
		t.Fatal("expected removal")
	}
	if r.Len() != 1 {
		t.Errorf("expected one entry left, got %d", r.Len())
	}
}

func TestOwnershipRelease(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	owned := &handler{name: "owned"}
	borrowed := &handler{name: "borrowed"}
	r.Register(owned, dispatch.Append, dispatch.RegistryOwns)
	r.Register(borrowed, dispatch.Append, dispatch.CallerOwns)

	r.Register(&handler{name: "new"}, dispatch.ReplaceAll, dispatch.RegistryOwns)
	if owned.released != 1 {
		t.Errorf("expected registry-owned handler to be released once, got %d", owned.released)
	}
	if borrowed.released != 0 {
		t.Error("caller-owned handler must not be released")
	}

	again := &handler{name: "again"}
	r.Register(again, dispatch.Append, dispatch.RegistryOwns)
	r.Deregister(again)
	if again.released != 1 {
		t.Errorf("expected release on deregister, got %d", again.released)
	}
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected empty registry after Clear, got %d", r.Len())
	}
}

func TestAbortOnErrorStopsChain(t *testing.T) {
	boom := errors.New("boom")
	r := dispatch.New[*handler](dispatch.AbortOnError)
	a, b, c := &handler{name: "a"}, &handler{name: "b", fail: boom}, &handler{name: "c"}
	for _, h := range []*handler{a, b, c} {
		r.Register(h, dispatch.Append, dispatch.CallerOwns)
	}
	var got []string
	err := r.Dispatch(record(&got))
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
	var herr *dispatch.HandlerError
	if !errors.As(err, &herr) || herr.Index != 1 {
		t.Errorf("expected HandlerError at index 1, got %v", err)
	}
	if c.calls != 0 {
		t.Error("handler after the failing one was invoked")
	}
}

func TestContinueOnErrorRunsEveryone(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	r := dispatch.New[*handler](dispatch.ContinueOnError)
	hs := []*handler{{name: "a", fail: e1}, {name: "b"}, {name: "c", fail: e2}}
	for _, h := range hs {
		r.Register(h, dispatch.Append, dispatch.CallerOwns)
	}
	var got []string
	err := r.Dispatch(record(&got))
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("expected both failures joined, got %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected all three handlers invoked, got %v", got)
	}
}

func TestHandlerMayDeregisterDuringDispatch(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	a, b := &handler{name: "a"}, &handler{name: "b"}
	r.Register(a, dispatch.Append, dispatch.CallerOwns)
	r.Register(b, dispatch.Append, dispatch.CallerOwns)
	var got []string
	err := r.Dispatch(func(h *handler) error {
		got = append(got, h.name)
		r.Deregister(h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || r.Len() != 0 {
		t.Errorf("expected both handlers to run and leave, got %v len=%d", got, r.Len())
	}
}

func TestEndToEndThreeHandlersFivePushes(t *testing.T) {
	r := &dispatch.Registry[*handler]{}
	hs := []*handler{{name: "a"}, {name: "b"}, {name: "c"}}
	for _, h := range hs {
		r.Register(h, dispatch.Append, dispatch.CallerOwns)
	}
	for push := 0; push < 5; push++ {
		var got []string
		if err := r.Dispatch(record(&got)); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
			t.Errorf("push %d order mismatch (-want +got):\n%s", push, diff)
		}
	}
	for _, h := range hs {
		if h.calls != 5 {
			t.Errorf("handler %s called %d times, expected 5", h.name, h.calls)
		}
	}
}
