// README: Booking aggregate, driver snapshot and status definitions.
package booking

import (
	"time"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// StatusClass groups statuses for rider-facing listings.
type StatusClass string

const (
	ClassActive     StatusClass = "active"
	ClassHistorical StatusClass = "historical"
)

type Booking struct {
	ID           types.ID
	RiderID      types.ID
	Pickup       string
	Dropoff      string
	Date         string
	Time         string
	Status       Status
	Driver       *matching.Driver
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// Clone returns a deep copy so callers never share the projection's memory.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	cp := *b
	if b.Driver != nil {
		d := *b.Driver
		cp.Driver = &d
	}
	cp.ConfirmedAt = cloneTime(b.ConfirmedAt)
	cp.CompletedAt = cloneTime(b.CompletedAt)
	cp.CancelledAt = cloneTime(b.CancelledAt)
	if b.CancelReason != nil {
		r := *b.CancelReason
		cp.CancelReason = &r
	}
	return &cp
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:      {StatusPending},
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Terminal reports whether the booking has reached completed or cancelled.
func (b *Booking) Terminal() bool {
	return b != nil && b.Status.Terminal()
}

// In reports whether s belongs to the class.
func (s Status) In(class StatusClass) bool {
	switch class {
	case ClassActive:
		return s == StatusPending || s == StatusConfirmed
	case ClassHistorical:
		return s.Terminal()
	}
	return false
}

// rank orders statuses along the state flow; the projection never
// replaces a record with one of lower rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusConfirmed:
		return 2
	case StatusCompleted, StatusCancelled:
		return 3
	}
	return 0
}

func ParseClass(v string) (StatusClass, bool) {
	switch StatusClass(v) {
	case ClassActive:
		return ClassActive, true
	case ClassHistorical:
		return ClassHistorical, true
	}
	return "", false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
