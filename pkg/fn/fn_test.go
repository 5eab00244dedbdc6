package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(3, nil).UnwrapOr(0) != 3 {
		t.Fatal("FromPair ok failed")
	}
	if FromPair(3, errors.New("x")).IsOk() {
		t.Fatal("FromPair with error should fail")
	}
}

func TestCollect_FirstErrorInOrder(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	r := Collect([]Result[int]{Ok(1), Err[int](first), Err[int](second)})
	if !errors.Is(r.Error(), first) {
		t.Fatalf("expected first error, got %v", r.Error())
	}
	all, err := Collect([]Result[int]{Ok(1), Ok(2)}).Unwrap()
	if err != nil || len(all) != 2 || all[1] != 2 {
		t.Fatal("Collect failed")
	}
}

// --- Slices ---

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * v })
	if out[2] != 9 {
		t.Fatal("Map failed")
	}
}

func TestChunk(t *testing.T) {
	c := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(c) != 3 || len(c[2]) != 1 || c[2][0] != 5 {
		t.Fatalf("Chunk failed: %v", c)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n<=0 should be nil")
	}
}

func TestUnique(t *testing.T) {
	u := Unique([]string{"b", "a", "b", "c", "a"})
	if len(u) != 3 || u[0] != "b" || u[2] != "c" {
		t.Fatalf("Unique failed: %v", u)
	}
}

// --- Parallel ---

func TestParMapResult(t *testing.T) {
	var running, peak int32
	out := ParMapResult(context.Background(), []int{1, 2, 3, 4, 5, 6}, 2, func(_ context.Context, v int) Result[int] {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return Ok(v * 10)
	})
	for i, r := range out {
		if r.UnwrapOr(0) != (i+1)*10 {
			t.Fatalf("out of order at %d", i)
		}
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 workers, saw %d", peak)
	}
}

func TestParMapResult_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ParMapResult(ctx, []int{1, 2}, 1, func(_ context.Context, v int) Result[int] { return Ok(v) })
	for _, r := range out {
		if !errors.Is(r.Error(), context.Canceled) {
			t.Fatalf("expected cancellation, got %v", r.Error())
		}
	}
}

func TestFanOutResult(t *testing.T) {
	v, err := FanOutResult(func() Result[int] { return Ok(1) }, func() Result[int] { return Ok(2) }).Unwrap()
	if err != nil || v[0] != 1 || v[1] != 2 {
		t.Fatal("FanOutResult failed")
	}

	e := FanOutResult(func() Result[int] { return Ok(1) }, func() Result[int] { return Err[int](errors.New("fail")) })
	if e.IsOk() {
		t.Fatal("FanOutResult should fail")
	}
}

// --- Pipeline ---

func TestThen(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	addOne := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) })

	if Then(double, addOne)(context.Background(), 5).UnwrapOr(0) != 11 {
		t.Fatal("Then failed")
	}
}

func TestThenShortCircuits(t *testing.T) {
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	called := false
	second := Stage[int, int](func(_ context.Context, v int) Result[int] {
		called = true
		return Ok(v)
	})

	r := Then(fail, second)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("Then should short-circuit")
	}
}

func TestTracedStage(t *testing.T) {
	s := TracedStage("test-stage", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	if s(context.Background(), 1).UnwrapOr(0) != 2 {
		t.Fatal("TracedStage failed")
	}

	e := TracedStage("err-stage", Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if e(context.Background(), 1).IsOk() {
		t.Fatal("TracedStage error should propagate")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	var retried []int
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, OnRetry: func(n int, _ error) { retried = append(retried, n) }}
	r := Retry(context.Background(), opts, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if r.UnwrapOr(0) != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
	if len(retried) != 2 || retried[1] != 2 {
		t.Fatalf("unexpected retry callbacks %v", retried)
	}
}

func TestRetryExhausted(t *testing.T) {
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail after exhausting attempts")
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("bad input")
	attempts := 0
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, Retryable: func(err error) bool { return !errors.Is(err, permanent) }}
	r := Retry(context.Background(), opts, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if attempts != 1 || !errors.Is(r.Error(), permanent) {
		t.Fatalf("expected a single attempt, got %d (%v)", attempts, r.Error())
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: 10 * time.Millisecond}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail on context cancel")
	}
}
