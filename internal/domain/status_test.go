package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"integrations-gateway/internal/domain"
)

func TestStatus_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusPending, domain.StatusPending, true},
		{domain.StatusPending, domain.StatusActive, true},
		{domain.StatusPending, domain.StatusError, true},
		{domain.StatusActive, domain.StatusError, true},
		{domain.StatusActive, domain.StatusRevoked, true},
		{domain.StatusError, domain.StatusActive, true},
		{domain.StatusRevoked, domain.StatusActive, false},
		{domain.StatusRevoked, domain.StatusPending, false},
		{domain.StatusActive, domain.StatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
		if !tt.ok {
			assert.ErrorIs(t, tt.from.Transition(tt.to), domain.ErrInvalidTransition)
		}
	}

	assert.False(t, domain.Status("UNKNOWN").Valid())
}

func TestIntegration_TokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&domain.Integration{}).TokenExpired(now))
	assert.True(t, (&domain.Integration{TokenExpiresAt: &past}).TokenExpired(now))
	assert.True(t, (&domain.Integration{TokenExpiresAt: &now}).TokenExpired(now))
	assert.False(t, (&domain.Integration{TokenExpiresAt: &future}).TokenExpired(now))
}
