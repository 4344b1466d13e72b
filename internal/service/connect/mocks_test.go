package connect

import (
	"context"

	"github.com/stretchr/testify/mock"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/credentials"
)

// MockCredentialStore is a mock implementation of CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) UpsertIntegration(ctx context.Context, organizationID string, provider domain.Provider, fields credentials.Fields) (*domain.Integration, error) {
	args := m.Called(ctx, organizationID, provider, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Integration), args.Error(1)
}

func (m *MockCredentialStore) EnsurePending(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	args := m.Called(ctx, organizationID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Integration), args.Error(1)
}

func (m *MockCredentialStore) MarkError(ctx context.Context, organizationID string, provider domain.Provider, reason string) error {
	args := m.Called(ctx, organizationID, provider, reason)
	return args.Error(0)
}

func (m *MockCredentialStore) Find(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	args := m.Called(ctx, organizationID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Integration), args.Error(1)
}

func (m *MockCredentialStore) RefreshToken(integration *domain.Integration) (string, error) {
	args := m.Called(integration)
	return args.String(0), args.Error(1)
}
