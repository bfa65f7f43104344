package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Slot is an atomic (date, time-bucket) calendar unit. Time is always the
// fixed-width HH:MM:SS start of the bucket.
type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// NewSlot normalizes a date and a wall-clock time into a Slot.
// Accepted times: H:MM, HH:MM, H:MM:SS, HH:MM:SS.
func NewSlot(date, clock string) (Slot, error) {
	d, err := NormalizeDate(date)
	if err != nil {
		return Slot{}, err
	}
	t, err := NormalizeTime(clock)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Date: d, Time: t}, nil
}

// NormalizeDate validates a YYYY-MM-DD date.
func NormalizeDate(date string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", Invalid(fmt.Sprintf("invalid date %q", date))
	}
	return d.Format(DateLayout), nil
}

// NormalizeTime validates a wall-clock time and pads it to HH:MM:SS.
func NormalizeTime(clock string) (string, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", Invalid(fmt.Sprintf("invalid time %q", clock))
	}
	limits := []int{23, 59, 59}
	vals := []int{0, 0, 0}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] || len(p) == 0 || len(p) > 2 {
			return "", Invalid(fmt.Sprintf("invalid time %q", clock))
		}
		vals[i] = n
	}
	return fmt.Sprintf("%02d:%02d:%02d", vals[0], vals[1], vals[2]), nil
}

// Normalize returns s with date and time in canonical form.
func (s Slot) Normalize() (Slot, error) {
	return NewSlot(s.Date, s.Time)
}

// Start returns the slot start as a UTC instant.
func (s Slot) Start() (time.Time, error) {
	return time.Parse(DateLayout+" "+TimeLayout, s.Date+" "+s.Time)
}

// Add returns the slot d later; the bucket may roll into the next day.
func (s Slot) Add(d time.Duration) (Slot, error) {
	start, err := s.Start()
	if err != nil {
		return Slot{}, err
	}
	next := start.Add(d)
	return Slot{Date: next.Format(DateLayout), Time: next.Format(TimeLayout)}, nil
}

func (s Slot) IsZero() bool { return s.Date == "" && s.Time == "" }

func (s Slot) String() string { return s.Date + " " + s.Time }

// SlotState is the occupancy of a single bucket.
type SlotState string

const (
	SlotFree    SlotState = "free"
	SlotBlocked SlotState = "blocked"
	SlotBooked  SlotState = "booked"
)

// DayState summarizes occupancy across a day's buckets.
type DayState string

const (
	DayFree             DayState = "free"
	DayPartiallyBlocked DayState = "partially_blocked"
	DayBlocked          DayState = "blocked"
	DayBooked           DayState = "booked"
)

type SlotInfo struct {
	Slot   Slot      `json:"slot"`
	State  SlotState `json:"state"`
	CaseID string    `json:"case_id,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type DaySlots struct {
	Date    string     `json:"date"`
	State   DayState   `json:"state"`
	Buckets []SlotInfo `json:"buckets"`
}

// Summarize derives the day state from its buckets.
func Summarize(buckets []SlotInfo) DayState {
	var free, blocked, booked int
	for _, b := range buckets {
		switch b.State {
		case SlotFree:
			free++
		case SlotBlocked:
			blocked++
		case SlotBooked:
			booked++
		}
	}
	switch {
	case len(buckets) == 0 || free == len(buckets):
		return DayFree
	case blocked == len(buckets):
		return DayBlocked
	case free == 0 && booked > 0:
		return DayBooked
	default:
		return DayPartiallyBlocked
	}
}
