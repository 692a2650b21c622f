package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusEntitled        Status = "entitled"
	StatusAuthenticated   Status = "authenticated"
	StatusExpired         Status = "expired"
	StatusRevoked         Status = "revoked"
)

// Rejection reasons returned with a refused connect.
const (
	ReasonNotEntitled = "not_entitled"
	ReasonExpired     = "expired"
	ReasonRevoked     = "revoked"
)

// Session is the access entitlement of one device. The window is fixed at
// approval time; remaining time is always derived from it.
type Session struct {
	Status           Status
	EntitlementStart *time.Time
	EntitlementEnd   *time.Time
	IntentID         *snowflake.ID
}

func (s Session) holdsWindow() bool {
	return s.Status == StatusEntitled || s.Status == StatusAuthenticated
}

// WindowOpen reports whether now falls strictly before the entitlement end.
func (s Session) WindowOpen(now time.Time) bool {
	return s.EntitlementEnd != nil && now.Before(*s.EntitlementEnd)
}

// Evaluate applies lazy expiry: an entitled or authenticated session whose
// window has closed reads as expired.
func (s Session) Evaluate(now time.Time) Session {
	if s.holdsWindow() && !s.WindowOpen(now) {
		s.Status = StatusExpired
	}
	if s.Status == "" {
		s.Status = StatusUnauthenticated
	}
	return s
}

func (s Session) Remaining(now time.Time) time.Duration {
	if s.EntitlementEnd == nil {
		return 0
	}
	switch s.Evaluate(now).Status {
	case StatusExpired, StatusRevoked:
		return 0
	}
	remaining := s.EntitlementEnd.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingMinutes rounds up so a device with seconds left still shows 1.
func (s Session) RemainingMinutes(now time.Time) int {
	remaining := s.Remaining(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}

type EventType string

const (
	EventIntentCreated  EventType = "intent_created"
	EventIntentReleased EventType = "intent_released"
	EventApproved       EventType = "approved"
	EventConnect        EventType = "connect"
	EventDisconnect     EventType = "disconnect"
	EventExpire         EventType = "expire"
	EventRevoke         EventType = "revoke"
)

type Event struct {
	Type     EventType
	IntentID snowflake.ID
	Duration time.Duration
}

// Transition is the outcome of Apply. Rejected is only set for connects.
type Transition struct {
	Session  Session
	Changed  bool
	Rejected bool
	Reason   string
}

// Apply computes the next session for an event observed at now. It never
// performs I/O; callers persist Session when Changed is set.
func Apply(current Session, ev Event, now time.Time) (Transition, error) {
	before := current
	s := current
	if s.Status == "" {
		s.Status = StatusUnauthenticated
	}
	out := Transition{}

	switch ev.Type {
	case EventIntentCreated:
		evaluated := s.Evaluate(now)
		if evaluated.holdsWindow() {
			return Transition{}, ErrAlreadyEntitled
		}
		s.Status = StatusAwaitingPayment

	case EventIntentReleased:
		if s.Status == StatusAwaitingPayment {
			s.Status = StatusUnauthenticated
		}

	case EventApproved:
		if ev.Duration <= 0 {
			return Transition{}, ErrInvalidDuration
		}
		start := now
		end := now.Add(ev.Duration)
		intentID := ev.IntentID
		s.Status = StatusEntitled
		s.EntitlementStart = &start
		s.EntitlementEnd = &end
		s.IntentID = &intentID

	case EventConnect:
		switch {
		case s.Status == StatusRevoked:
			out.Rejected, out.Reason = true, ReasonRevoked
		case s.EntitlementEnd == nil:
			out.Rejected, out.Reason = true, ReasonNotEntitled
		case !s.WindowOpen(now):
			if s.Status != StatusAwaitingPayment {
				s.Status = StatusExpired
			}
			out.Rejected, out.Reason = true, ReasonExpired
		case s.Status == StatusExpired:
			out.Rejected, out.Reason = true, ReasonExpired
		default:
			s.Status = StatusAuthenticated
		}

	case EventDisconnect:
		if s.Status == StatusAuthenticated {
			s.Status = StatusUnauthenticated
		}

	case EventExpire:
		if s.holdsWindow() && !s.WindowOpen(now) {
			s.Status = StatusExpired
		}

	case EventRevoke:
		s.Status = StatusRevoked

	default:
		return Transition{}, ErrUnknownEvent
	}

	out.Session = s
	out.Changed = !sameSession(before, s)
	return out, nil
}

func sameSession(a, b Session) bool {
	return a.Status == b.Status &&
		sameTime(a.EntitlementStart, b.EntitlementStart) &&
		sameTime(a.EntitlementEnd, b.EntitlementEnd) &&
		sameID(a.IntentID, b.IntentID)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
