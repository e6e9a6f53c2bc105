package keyed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type pair struct {
	Host, User string
}

type counter struct {
	inits    *atomic.Int32
	creates  *atomic.Int32
	release  chan struct{}
	fail     func(pair) error
	key      pair
	shutdown atomic.Bool
}

func (c *counter) Initialize(_ context.Context, key pair) error {
	c.inits.Add(1)
	if c.release != nil {
		<-c.release
	}
	c.key = key
	if c.fail != nil {
		return c.fail(key)
	}
	return nil
}

type harness struct {
	inits, creates atomic.Int32
	release        chan struct{}
	fail           func(pair) error
}

func (h *harness) newFn(pair) *counter {
	h.creates.Add(1)
	return &counter{inits: &h.inits, creates: &h.creates, release: h.release, fail: h.fail}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	h := harness{release: make(chan struct{})}
	c := New(h.newFn)

	const n = 32
	var wg sync.WaitGroup
	results := make([]*counter, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCreate(context.Background(), pair{"10.0.0.1", "admin"})
		}(i)
	}
	// 让所有调用者进入等待后再放行初始化
	time.Sleep(50 * time.Millisecond)
	close(h.release)
	wg.Wait()

	if got := h.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}
	if got := h.inits.Load(); got != 1 {
		t.Fatalf("inits = %d, want 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d err: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestGetOrCreateFailureIsShared(t *testing.T) {
	errBoom := errors.New("boom")
	h := harness{
		release: make(chan struct{}),
		fail:    func(pair) error { return errBoom },
	}
	c := New(h.newFn)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCreate(context.Background(), pair{"10.0.0.2", "admin"})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(h.release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errBoom) {
			t.Fatalf("caller %d err = %v, want %v", i, err, errBoom)
		}
	}
	if got := h.inits.Load(); got != 1 {
		t.Fatalf("inits = %d, want 1", got)
	}
	if _, ok := c.Get(pair{"10.0.0.2", "admin"}); ok {
		t.Fatal("failed instance must not be cached")
	}
}

func TestGetOrCreateRetryAfterFailure(t *testing.T) {
	var attempts atomic.Int32
	h := harness{
		fail: func(pair) error {
			if attempts.Add(1) == 1 {
				return errors.New("first attempt fails")
			}
			return nil
		},
	}
	c := New(h.newFn)
	key := pair{"10.0.0.3", "admin"}

	if _, err := c.GetOrCreate(context.Background(), key); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	v, err := c.GetOrCreate(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if v.key != key {
		t.Fatalf("key = %v, want %v", v.key, key)
	}
	if got := h.creates.Load(); got != 2 {
		t.Fatalf("creates = %d, want 2", got)
	}
}

func TestDistinctKeys(t *testing.T) {
	var h harness
	c := New(h.newFn, WithKeyFunc[pair, *counter](func(p pair) string {
		return fmt.Sprintf("%q:%q", p.Host, p.User)
	}))
	a, err := c.GetOrCreate(context.Background(), pair{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.GetOrCreate(context.Background(), pair{"a:b", ""})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("distinct keys must produce distinct instances")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestWaiterCancel(t *testing.T) {
	h := harness{release: make(chan struct{})}
	c := New(h.newFn)
	key := pair{"10.0.0.4", "admin"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(ctx, key)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// 初始化不受首个调用者取消影响
	close(h.release)
	v, err := c.GetOrCreate(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Fatal("nil instance")
	}
	if got := h.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}
}

func TestRemoveAndClose(t *testing.T) {
	var h harness
	var torn atomic.Int32
	c := New(h.newFn, WithTeardown[pair, *counter](func(v *counter) {
		v.shutdown.Store(true)
		torn.Add(1)
	}))

	key := pair{"10.0.0.5", "admin"}
	v, err := c.GetOrCreate(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Remove(key) {
		t.Fatal("Remove() = false")
	}
	if c.Remove(key) {
		t.Fatal("second Remove() must be a no-op")
	}
	if !v.shutdown.Load() {
		t.Fatal("teardown not called")
	}

	if _, err := c.GetOrCreate(context.Background(), pair{"10.0.0.6", "admin"}); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
	if got := torn.Load(); got != 2 {
		t.Fatalf("teardown calls = %d, want 2", got)
	}
	if _, err := c.GetOrCreate(context.Background(), key); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCloseDuringInitialize(t *testing.T) {
	h := harness{release: make(chan struct{})}
	var torn atomic.Int32
	c := New(h.newFn, WithTeardown[pair, *counter](func(*counter) {
		torn.Add(1)
	}))

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(context.Background(), pair{"10.0.0.7", "admin"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()
	close(h.release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if got := torn.Load(); got != 1 {
		t.Fatalf("teardown calls = %d, want 1", got)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
	if _, ok := c.Get(pair{"10.0.0.7", "admin"}); ok {
		t.Fatal("instance stored after close")
	}
}
