package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusActive, StatusRejected, StatusExpired}
	allowed := map[Status]map[Status]bool{
		StatusPending: {StatusActive: true, StatusRejected: true},
		StatusActive:  {StatusActive: true, StatusExpired: true},
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[from][to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, Status("ARCHIVED").Valid())
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2024, 5, 10, 23, 30, 0, 0, time.UTC)
	cases := []struct {
		name   string
		expiry time.Time
		want   int
	}{
		{"same day", time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC), 0},
		{"next morning", time.Date(2024, 5, 11, 0, 5, 0, 0, time.UTC), 1},
		{"a week", time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC), 7},
		{"yesterday", time.Date(2024, 5, 9, 23, 59, 0, 0, time.UTC), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expiry := tc.expiry
			req := PermissionRequest{ExpiryAt: &expiry}
			days, ok := req.DaysUntilExpiry(now)
			assert.True(t, ok)
			assert.Equal(t, tc.want, days)
		})
	}
	_, ok := PermissionRequest{}.DaysUntilExpiry(now)
	assert.False(t, ok)
}
