package queue

import (
	"context"
	"testing"
	"time"

	"github.com/relaywire/relaywire/internal/task"
)

func TestMemoryBroker_FIFOWithinLane(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	for _, data := range []string{"a", "b", "c"} {
		if err := b.Push(ctx, task.LaneHigh, []byte(data), time.Time{}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		data, ok, err := b.Pop(ctx, task.LaneHigh)
		if err != nil || !ok {
			t.Fatalf("Pop = (%v, %v), want entry", ok, err)
		}
		if string(data) != want {
			t.Errorf("Pop = %q, want %q", data, want)
		}
	}

	if _, ok, _ := b.Pop(ctx, task.LaneHigh); ok {
		t.Error("Pop on drained lane must report no entry")
	}
}

func TestMemoryBroker_DelayedVisibility(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	visibleAt := now.Add(5 * time.Second)
	if err := b.Push(ctx, task.LaneMedium, []byte("delayed"), visibleAt); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, ok, _ := b.Pop(ctx, task.LaneMedium); ok {
		t.Fatal("entry must be invisible before notBefore")
	}
	if depth, _ := b.Depth(ctx, task.LaneMedium); depth != 1 {
		t.Errorf("Depth = %d, want 1 (invisible entries still count)", depth)
	}

	now = visibleAt.Add(time.Millisecond)
	data, ok, err := b.Pop(ctx, task.LaneMedium)
	if err != nil || !ok {
		t.Fatalf("Pop after notBefore = (%v, %v), want entry", ok, err)
	}
	if string(data) != "delayed" {
		t.Errorf("Pop = %q", data)
	}
}

func TestMemoryBroker_DelayedEntryOrdersByVisibility(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	// Pushed first but visible later; the immediate entry must pop first.
	b.Push(ctx, task.LaneLow, []byte("later"), now.Add(10*time.Second))
	b.Push(ctx, task.LaneLow, []byte("now"), time.Time{})

	data, ok, _ := b.Pop(ctx, task.LaneLow)
	if !ok || string(data) != "now" {
		t.Fatalf("Pop = (%q, %v), want immediate entry first", data, ok)
	}

	now = now.Add(11 * time.Second)
	data, ok, _ = b.Pop(ctx, task.LaneLow)
	if !ok || string(data) != "later" {
		t.Fatalf("Pop = (%q, %v), want delayed entry once visible", data, ok)
	}
}

func TestMemoryBroker_ReadyAge(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	if _, ok, _ := b.ReadyAge(ctx, task.LaneLow); ok {
		t.Error("empty lane must report no ready entry")
	}

	b.Push(ctx, task.LaneLow, []byte("x"), time.Time{})
	now = now.Add(90 * time.Second)

	age, ok, err := b.ReadyAge(ctx, task.LaneLow)
	if err != nil || !ok {
		t.Fatalf("ReadyAge = (%v, %v)", ok, err)
	}
	if age != 90*time.Second {
		t.Errorf("ReadyAge = %v, want 90s", age)
	}
}

func TestMemoryBroker_ReadyAgeIgnoresInvisible(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	b.Push(ctx, task.LaneLow, []byte("x"), now.Add(time.Hour))
	if _, ok, _ := b.ReadyAge(ctx, task.LaneLow); ok {
		t.Error("a not-yet-visible entry must not report a ready age")
	}
}
