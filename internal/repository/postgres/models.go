package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/encryption"
)

const integrationColumns = `id, organization_id, provider, display_name, status, connected,
        access_token, refresh_token, token_expires_at, permissions, webhook_secret,
        config, error_message, sync_enabled, sync_frequency, created_at, updated_at`

// integrationRow - строка таблицы integrations в том виде, в каком ее сканирует sqlx
type integrationRow struct {
	ID             string            `db:"id"`
	OrganizationID string            `db:"organization_id"`
	Provider       string            `db:"provider"`
	DisplayName    string            `db:"display_name"`
	Status         string            `db:"status"`
	Connected      bool              `db:"connected"`
	AccessToken    encryption.Sealed `db:"access_token"`
	RefreshToken   encryption.Sealed `db:"refresh_token"`
	TokenExpiresAt *time.Time        `db:"token_expires_at"`
	Permissions    pq.StringArray    `db:"permissions"`
	WebhookSecret  encryption.Sealed `db:"webhook_secret"`
	Config         []byte            `db:"config"`
	ErrorMessage   string            `db:"error_message"`
	SyncEnabled    bool              `db:"sync_enabled"`
	SyncFrequency  string            `db:"sync_frequency"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
	// Inserted заполняется только в RETURNING upsert-запроса
	Inserted bool `db:"inserted"`
}

func (r *integrationRow) toDomain() (*domain.Integration, error) {
	cfg := map[string]string{}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return &domain.Integration{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Provider:       domain.Provider(r.Provider),
		DisplayName:    r.DisplayName,
		Status:         domain.Status(r.Status),
		Connected:      r.Connected,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		TokenExpiresAt: r.TokenExpiresAt,
		Permissions:    []string(r.Permissions),
		WebhookSecret:  r.WebhookSecret,
		Config:         cfg,
		ErrorMessage:   r.ErrorMessage,
		SyncEnabled:    r.SyncEnabled,
		SyncFrequency:  r.SyncFrequency,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// webhookEventRow - строка таблицы webhook_events
type webhookEventRow struct {
	ID            string    `db:"id"`
	IntegrationID string    `db:"integration_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Headers       []byte    `db:"headers"`
	Processed     bool      `db:"processed"`
	RetryCount    int       `db:"retry_count"`
	ReceivedAt    time.Time `db:"received_at"`
}

func (r *webhookEventRow) toDomain() (*domain.WebhookEvent, error) {
	headers := map[string]string{}
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	return &domain.WebhookEvent{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		EventType:     r.EventType,
		Payload:       json.RawMessage(r.Payload),
		Headers:       headers,
		Processed:     r.Processed,
		RetryCount:    r.RetryCount,
		ReceivedAt:    r.ReceivedAt,
	}, nil
}
