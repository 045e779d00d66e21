package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int](1000, 10)
	defer q.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	var futs []*Future[int]
	for i := 1; i <= 5; i++ {
		i := i
		fut, err := q.Schedule(context.Background(), func(context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		futs = append(futs, fut)
	}
	for i, fut := range futs {
		v, err := fut.Wait(context.Background())
		if err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		if v != i+1 {
			t.Fatalf("result = %d, want %d", v, i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("execution order = %v, want ascending", order)
		}
	}
}

func TestQueue_PacesDispatches(t *testing.T) {
	// 20 rps means at least 50ms between dispatches
	q := New[time.Time](20, 10)
	defer q.Close()

	var futs []*Future[time.Time]
	for i := 0; i < 3; i++ {
		fut, err := q.Schedule(context.Background(), func(context.Context) (time.Time, error) {
			return time.Now(), nil
		})
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
		futs = append(futs, fut)
	}

	var stamps []time.Time
	for _, fut := range futs {
		ts, err := fut.Wait(context.Background())
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		stamps = append(stamps, ts)
	}
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < 40*time.Millisecond {
			t.Fatalf("dispatch gap %d = %v, want >= ~50ms", i, gap)
		}
	}
}

func TestQueue_Overflow(t *testing.T) {
	q := New[struct{}](1000, 2)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	blocker := func(context.Context) (struct{}, error) {
		close(started)
		<-release
		return struct{}{}, nil
	}
	first, err := q.Schedule(context.Background(), blocker)
	if err != nil {
		t.Fatalf("schedule blocker: %v", err)
	}
	<-started

	// worker is busy; two submissions fill the pending buffer
	var rest []*Future[struct{}]
	for i := 0; i < 2; i++ {
		fut, err := q.Schedule(context.Background(), func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		rest = append(rest, fut)
	}

	// one running plus queueMax pending: the next submission overflows
	if _, err := q.Schedule(context.Background(), blocker); !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}

	close(release)
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first: %v", err)
	}
	for i, fut := range rest {
		if _, err := fut.Wait(context.Background()); err != nil {
			t.Fatalf("rest %d: %v", i, err)
		}
	}
}

func TestQueue_CloseFailsPending(t *testing.T) {
	q := New[int](1, 10)

	// rps=1 keeps the second task pending long enough to be caught by Close
	first, err := q.Schedule(context.Background(), func(context.Context) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := q.Schedule(context.Background(), func(context.Context) (int, error) {
		return 2, nil
	})
	if err != nil {
		t.Fatalf("schedule second: %v", err)
	}

	q.Close()
	if _, err := second.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		// the second task may have been dispatched before Close won the race
		if err != nil {
			t.Fatalf("second: %v", err)
		}
	}

	if _, err := q.Schedule(context.Background(), func(context.Context) (int, error) {
		return 3, nil
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestQueue_CanceledSubmitterSkipsTask(t *testing.T) {
	q := New[int](1, 10)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	fut, err := q.Schedule(ctx, func(context.Context) (int, error) {
		ran = true
		return 0, nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := fut.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatalf("task ran despite canceled submitter")
	}
}
