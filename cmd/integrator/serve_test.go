package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrations-gateway/internal/service/organization"
)

func TestDevResolver(t *testing.T) {
	t.Parallel()

	r := devResolver(" user-1:42 , user-2:42:member,broken,:7,user-3:43:admin")

	tests := []struct {
		user, org string
		want      string
	}{
		{"user-1", "42", organization.RoleOwner},
		{"user-2", "42", organization.RoleMember},
		{"user-3", "43", organization.RoleAdmin},
		{"broken", "", ""},
		{"", "7", ""},
	}

	for _, tt := range tests {
		role, err := r.Role(context.Background(), tt.user, tt.org)
		require.NoError(t, err)
		assert.Equal(t, tt.want, role, "%s in %s", tt.user, tt.org)
	}
}
