package queue

import (
	"context"
	"testing"
	"time"
)

func openTestFIFO(t *testing.T) *FIFO {
	t.Helper()
	f, err := OpenFIFO("test", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenFIFO: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFIFOPutGetAck(t *testing.T) {
	f := openTestFIFO(t)
	ctx := context.Background()

	if err := f.Put(Item{Domain: "example.com", Kind: KindSave, Source: SourceIngress}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	item, err := f.Get(ctx, time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatal("expected an item, got nil")
	}
	if item.Domain != "example.com" {
		t.Fatalf("domain = %q, want example.com", item.Domain)
	}

	if depth, err := f.Len(); err != nil || depth != 0 {
		t.Fatalf("Len() = %d, %v, want 0, nil", depth, err)
	}

	if err := f.Ack(item.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestFIFOOrdering(t *testing.T) {
	f := openTestFIFO(t)
	ctx := context.Background()

	for _, d := range []string{"a.com", "b.com", "c.com"} {
		if err := f.Put(Item{Domain: d, Kind: KindSave}); err != nil {
			t.Fatalf("Put(%s): %v", d, err)
		}
	}

	var got []string
	for i := 0; i < 3; i++ {
		item, err := f.Get(ctx, time.Second)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item == nil {
			t.Fatalf("expected item %d, got nil", i)
		}
		got = append(got, item.Domain)
		f.Ack(item.ID)
	}

	want := []string{"a.com", "b.com", "c.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestFIFOGetTimeout(t *testing.T) {
	f := openTestFIFO(t)
	item, err := f.Get(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil on empty queue, got %+v", item)
	}
}

func TestFIFORecoversInflightOnReopen(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFIFO("test", dir, nil)
	if err != nil {
		t.Fatalf("OpenFIFO: %v", err)
	}

	if err := f.Put(Item{Domain: "example.com", Kind: KindSave}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	item, err := f.Get(context.Background(), time.Second)
	if err != nil || item == nil {
		t.Fatalf("Get: %v, %+v", err, item)
	}
	// Simulate a crash: never Ack, just close.
	f.Close()

	f2, err := OpenFIFO("test", dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()

	depth, err := f2.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth after reopen = %d, want 1 (inflight item should be recovered)", depth)
	}
}

func TestDrainReady(t *testing.T) {
	f := openTestFIFO(t)
	now := time.Now()

	if err := f.Put(Item{Domain: "ready.com", ReadyAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.Put(Item{Domain: "future.com", ReadyAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ready, err := f.DrainReady(now)
	if err != nil {
		t.Fatalf("DrainReady: %v", err)
	}
	if len(ready) != 1 || ready[0].Domain != "ready.com" {
		t.Fatalf("DrainReady = %+v, want only ready.com", ready)
	}

	depth, err := f.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1 (future.com left in place)", depth)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt   int
		wantDelay time.Duration
		wantOK    bool
	}{
		{0, 0, false},
		{1, 30 * time.Second, true},
		{5, 30 * time.Minute, true},
		{6, 0, false},
	}
	for _, tt := range tests {
		delay, ok := Backoff(tt.attempt)
		if delay != tt.wantDelay || ok != tt.wantOK {
			t.Errorf("Backoff(%d) = %v, %v, want %v, %v", tt.attempt, delay, ok, tt.wantDelay, tt.wantOK)
		}
	}
}
