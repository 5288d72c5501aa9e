package appointment

import (
	"testing"
	"time"
)

func TestDaySlots_GridShape(t *testing.T) {
	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)

	slots := DaySlots(day, nil, now)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}

	first := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	last := time.Date(2026, 3, 16, 16, 30, 0, 0, time.UTC)
	if !slots[0].StartsAt.Equal(first) {
		t.Errorf("expected first slot at %v, got %v", first, slots[0].StartsAt)
	}
	if !slots[len(slots)-1].StartsAt.Equal(last) {
		t.Errorf("expected last slot at %v, got %v", last, slots[len(slots)-1].StartsAt)
	}
	for _, s := range slots {
		if !s.Available {
			t.Errorf("expected empty day slot %v to be available", s.StartsAt)
		}
	}
}

func TestDaySlots_BusyBlocksBufferWindow(t *testing.T) {
	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)
	busy := []time.Time{time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)}

	slots := DaySlots(day, busy, now)
	blocked := map[string]bool{"09:30": true, "10:00": true, "10:30": true}
	for _, s := range slots {
		key := s.StartsAt.Format("15:04")
		if blocked[key] && s.Available {
			t.Errorf("expected slot %s to be blocked", key)
		}
		if !blocked[key] && !s.Available {
			t.Errorf("expected slot %s to stay available", key)
		}
	}
}

func TestDaySlots_PastSlotsUnavailable(t *testing.T) {
	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 16, 11, 0, 0, 0, time.UTC)

	slots := DaySlots(day, nil, now)
	for _, s := range slots {
		if !s.StartsAt.After(now) && s.Available {
			t.Errorf("expected past slot %v to be unavailable", s.StartsAt)
		}
		if s.StartsAt.After(now) && !s.Available {
			t.Errorf("expected future slot %v to be available", s.StartsAt)
		}
	}
}

func TestDaySlots_AdjacentDayAppointmentBlocksEdge(t *testing.T) {
	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	now := day.Add(-time.Hour)
	// An 08:30 booking sits outside the grid but within the buffer window of
	// the 09:00 slot.
	busy := []time.Time{time.Date(2026, 3, 16, 8, 30, 0, 0, time.UTC)}

	slots := DaySlots(day, busy, now)
	if slots[0].Available {
		t.Error("expected 09:00 slot to be blocked by 08:30 booking")
	}
	if !slots[1].Available {
		t.Error("expected 09:30 slot to stay available")
	}
}
