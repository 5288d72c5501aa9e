package appointment

import "time"

// Clinic hours. Slots start every 30 minutes from 09:00 through 16:30 UTC,
// 16 slots per day.
const (
	firstSlotHour = 9
	clinicCloses  = 17
)

// Slot is one bookable start time in the day grid.
type Slot struct {
	StartsAt  time.Time `json:"starts_at"`
	Available bool      `json:"available"`
}

// DaySlots builds the booking grid for one calendar day. A slot is
// unavailable when an active appointment starts within the buffer window of
// it, or when its start time is not after now.
func DaySlots(day time.Time, busy []time.Time, now time.Time) []Slot {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, firstSlotHour, 0, 0, 0, time.UTC)

	slots := make([]Slot, 0, 16)
	for t := start; t.Hour() < clinicCloses; t = t.Add(SlotDuration) {
		available := t.After(now)
		if available {
			for _, b := range busy {
				if InConflictWindow(t, b) {
					available = false
					break
				}
			}
		}
		slots = append(slots, Slot{StartsAt: t, Available: available})
	}
	return slots
}
