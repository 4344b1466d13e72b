package _interface

import (
	"context"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/encryption"
)

// IntegrationRepository - интерфейс для работы с интеграциями.
// Отсутствующая запись возвращается как domain.ErrIntegrationNotFound,
// остальные ошибки хранилища - как *domain.PersistenceError.
type IntegrationRepository interface {
	// Upsert атомарно создает или обновляет запись по (organization_id, provider).
	// webhook_secret записывается только при создании. Второй результат - true, если запись создана.
	// Отозванная запись не обновляется: domain.ErrInvalidTransition.
	Upsert(ctx context.Context, in domain.IntegrationUpsert) (*domain.Integration, bool, error)
	// Create создает запись PENDING. Если пара (organization_id, provider) занята -
	// domain.ErrIntegrationExists и существующая запись.
	Create(ctx context.Context, in domain.IntegrationCreate) (*domain.Integration, error)
	// ResetPending создает запись в статусе PENDING, если ее нет, и пересоздает отозванную.
	ResetPending(ctx context.Context, organizationID string, provider domain.Provider, displayName string, secret encryption.Sealed) (*domain.Integration, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, message string) error
	Revoke(ctx context.Context, id string) error
	// EstablishWebhookSecret записывает секрет, присланный провайдером при создании подписки,
	// и отмечает marker в config. Повторно (или для отозванной записи) - domain.ErrHookEstablished.
	EstablishWebhookSecret(ctx context.Context, id, marker string, secret encryption.Sealed) error
	// UpdateSettings сливает config и меняет настройки синхронизации
	UpdateSettings(ctx context.Context, id string, settings domain.SettingsUpdate) (*domain.Integration, error)

	FindByID(ctx context.Context, id string) (*domain.Integration, error)
	FindByOrganizationAndProvider(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error)
	FindByOrganization(ctx context.Context, organizationID string) ([]*domain.Integration, error)
	FindConnectedByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Integration, error)
	FindByConfigValue(ctx context.Context, provider domain.Provider, key, value string) (*domain.Integration, error)

	// События вебхуков
	CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	ListWebhookEvents(ctx context.Context, integrationID string, limit int) ([]*domain.WebhookEvent, error)
}
