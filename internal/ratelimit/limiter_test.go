package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNew(t *testing.T) {
	l := New(100)
	if l.Rate() != 100 {
		t.Errorf("expected rate 100, got %v", l.Rate())
	}
}

func TestLimiterNewMinimum(t *testing.T) {
	l := New(0)
	if l.Rate() != 1 {
		t.Errorf("expected rate 1 (minimum), got %v", l.Rate())
	}

	l = New(-5)
	if l.Rate() != 1 {
		t.Errorf("expected rate 1 (minimum), got %v", l.Rate())
	}
}

func TestLimiterSetRate(t *testing.T) {
	l := New(100)
	l.SetRate(500)
	if l.Rate() != 500 {
		t.Errorf("expected rate 500, got %v", l.Rate())
	}

	l.SetRate(0)
	if l.Rate() != 1 {
		t.Errorf("expected rate 1 (minimum), got %v", l.Rate())
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := New(10000)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("expected near-instant first wait, got %v", elapsed)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := New(1) // 1 per second so the second Wait blocks

	ctx, cancel := context.WithCancel(context.Background())
	_ = l.Wait(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

// Cancelled Wait calls must return their permit slot so later callers are
// not starved by slots nobody used.
func TestLimiterCancelledWaitReturnsPermit(t *testing.T) {
	l := New(100) // 10ms interval

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	// 9 more permits at 100/s should take ~90ms. If the cancelled waits
	// leaked their slots this would take ~190ms.
	start := time.Now()
	for i := 0; i < 9; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("cancelled waits leaked permit slots: 9 permits took %v", elapsed)
	}
}

func TestLimiterSmoothness(t *testing.T) {
	rate := 100.0 // 10ms per permit
	l := New(rate)
	ctx := context.Background()

	n := 10
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First permit is immediate, the rest are spaced by one interval.
	expected := time.Duration(float64(time.Second) * float64(n-1) / rate)
	minExpected := time.Duration(float64(expected) * 0.8)
	maxExpected := time.Duration(float64(expected) * 1.3)

	if elapsed < minExpected || elapsed > maxExpected {
		t.Errorf("expected elapsed time ~%v (range %v-%v), got %v",
			expected, minExpected, maxExpected, elapsed)
	}
}

func TestLimiterHighThroughput(t *testing.T) {
	rate := 10000.0
	l := New(rate)
	ctx := context.Background()

	numWorkers := 100
	permitsPerWorker := 100
	totalPermits := numWorkers * permitsPerWorker

	var wg sync.WaitGroup
	var count atomic.Int64

	start := time.Now()
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < permitsPerWorker; j++ {
				if err := l.Wait(ctx); err != nil {
					return
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if count.Load() != int64(totalPermits) {
		t.Errorf("expected %d permits, got %d", totalPermits, count.Load())
	}

	actualRate := float64(totalPermits) / elapsed.Seconds()
	if actualRate < rate*0.7 || actualRate > rate*1.4 {
		t.Errorf("expected rate ~%v, got %v", rate, actualRate)
	}
}

func TestLimiterRateChange(t *testing.T) {
	l := New(100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.Wait(ctx)
	}

	l.SetRate(1000)
	if l.Rate() != 1000 {
		t.Errorf("expected rate 1000, got %v", l.Rate())
	}

	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = l.Wait(ctx)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("rate change didn't take effect, elapsed %v", elapsed)
	}
}
