package domain

import (
	"testing"
	"time"
)

func TestConnectionStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	cases := []struct {
		name string
		last *time.Time
		want ConnectionStatus
	}{
		{"never", nil, ConnectionNeverConnected},
		{"fresh", at(30 * time.Second), ConnectionOnline},
		{"exactly five minutes", at(5 * time.Minute), ConnectionOnline},
		{"six minutes", at(6 * time.Minute), ConnectionUnstable},
		{"exactly ten minutes", at(10 * time.Minute), ConnectionUnstable},
		{"eleven minutes", at(11 * time.Minute), ConnectionOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConnectionStatusAt(tc.last, now, 5*time.Minute, 10*time.Minute); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
