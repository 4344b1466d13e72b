package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/service/encryption"
)

// IntegrationRepository - PostgreSQL реализация
type IntegrationRepository struct {
	db *sqlx.DB
}

// NewIntegrationRepository создает новый репозиторий
func NewIntegrationRepository(db *sqlx.DB) repoInterface.IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// Upsert создает или обновляет интеграцию одним запросом INSERT ... ON CONFLICT.
// Параллельные колбэки для одной пары (organization_id, provider) не создают дублей,
// выигрывает последняя запись. webhook_secret при обновлении не трогается.
// Отозванная запись не обновляется (domain.ErrInvalidTransition).
func (r *IntegrationRepository) Upsert(ctx context.Context, in domain.IntegrationUpsert) (*domain.Integration, bool, error) {
	query := `
        INSERT INTO integrations (id, organization_id, provider, display_name, status, connected,
            access_token, refresh_token, token_expires_at, permissions, webhook_secret, config,
            error_message, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', NOW(), NOW())
        ON CONFLICT (organization_id, provider) DO UPDATE SET
            display_name     = COALESCE(NULLIF(EXCLUDED.display_name, ''), integrations.display_name),
            status           = EXCLUDED.status,
            connected        = EXCLUDED.connected,
            access_token     = EXCLUDED.access_token,
            refresh_token    = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            permissions      = EXCLUDED.permissions,
            config           = integrations.config || EXCLUDED.config,
            error_message    = '',
            updated_at       = NOW()
        WHERE integrations.status <> 'REVOKED'
        RETURNING ` + integrationColumns + `, (xmax = 0) AS inserted
    `

	configJSON, err := marshalConfig(in.Config)
	if err != nil {
		return nil, false, err
	}

	var row integrationRow
	err = r.db.QueryRowxContext(ctx, query,
		uuid.NewString(),
		in.OrganizationID,
		string(in.Provider),
		in.DisplayName,
		string(in.Status),
		in.Connected,
		in.AccessToken,
		in.RefreshToken,
		in.TokenExpiresAt,
		pq.Array(nonNil(in.Permissions)),
		in.WebhookSecret,
		configJSON,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		// конфликт был, но WHERE отсек отозванную запись
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, domain.StatusRevoked, in.Status)
	}
	if err != nil {
		return nil, false, domain.Persistence("upsert integration", err)
	}

	integration, err := row.toDomain()
	if err != nil {
		return nil, false, domain.Persistence("upsert integration", err)
	}
	return integration, row.Inserted, nil
}

// Create создает запись PENDING. Занятая пара (organization_id, provider) не перезаписывается.
func (r *IntegrationRepository) Create(ctx context.Context, in domain.IntegrationCreate) (*domain.Integration, error) {
	query := `
        INSERT INTO integrations (id, organization_id, provider, display_name, status, connected,
            permissions, webhook_secret, config, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'PENDING', FALSE, '{}', $5, $6, NOW(), NOW())
        ON CONFLICT (organization_id, provider) DO NOTHING
        RETURNING ` + integrationColumns

	configJSON, err := marshalConfig(in.Config)
	if err != nil {
		return nil, err
	}

	var row integrationRow
	err = r.db.QueryRowxContext(ctx, query,
		uuid.NewString(), in.OrganizationID, string(in.Provider), in.DisplayName, in.WebhookSecret, configJSON,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByOrganizationAndProvider(ctx, in.OrganizationID, in.Provider)
		if findErr != nil {
			return nil, findErr
		}
		return existing, domain.ErrIntegrationExists
	}
	if err != nil {
		return nil, domain.Persistence("create integration", err)
	}

	integration, err := row.toDomain()
	if err != nil {
		return nil, domain.Persistence("create integration", err)
	}
	return integration, nil
}

// ResetPending создает запись PENDING; существующую запись меняет только если она отозвана
func (r *IntegrationRepository) ResetPending(ctx context.Context, organizationID string, provider domain.Provider, displayName string, secret encryption.Sealed) (*domain.Integration, error) {
	query := `
        INSERT INTO integrations (id, organization_id, provider, display_name, status, connected,
            permissions, webhook_secret, config, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'PENDING', FALSE, '{}', $5, '{}'::jsonb, NOW(), NOW())
        ON CONFLICT (organization_id, provider) DO UPDATE SET
            status           = 'PENDING',
            connected        = FALSE,
            access_token     = NULL,
            refresh_token    = NULL,
            token_expires_at = NULL,
            permissions      = '{}',
            webhook_secret   = EXCLUDED.webhook_secret,
            config           = '{}'::jsonb,
            error_message    = '',
            updated_at       = NOW()
        WHERE integrations.status = 'REVOKED'
        RETURNING ` + integrationColumns

	var row integrationRow
	err := r.db.QueryRowxContext(ctx, query,
		uuid.NewString(), organizationID, string(provider), displayName, secret,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		// запись уже есть и не отозвана
		return r.FindByOrganizationAndProvider(ctx, organizationID, provider)
	}
	if err != nil {
		return nil, domain.Persistence("reset pending integration", err)
	}

	integration, err := row.toDomain()
	if err != nil {
		return nil, domain.Persistence("reset pending integration", err)
	}
	return integration, nil
}

// UpdateStatus обновляет статус интеграции
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, message string) error {
	query := `UPDATE integrations SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	return r.execOne(ctx, "update integration status", query, string(status), message, id)
}

// Revoke отзывает интеграцию и стирает токены (мягкое удаление)
func (r *IntegrationRepository) Revoke(ctx context.Context, id string) error {
	query := `
        UPDATE integrations
        SET status = 'REVOKED', connected = FALSE, access_token = NULL, refresh_token = NULL,
            token_expires_at = NULL, updated_at = NOW()
        WHERE id = $1
    `
	return r.execOne(ctx, "revoke integration", query, id)
}

// EstablishWebhookSecret принимает секрет подписки один раз: условие в WHERE
// не дает перезаписать уже принятый секрет параллельным или повторным запросом
func (r *IntegrationRepository) EstablishWebhookSecret(ctx context.Context, id, marker string, secret encryption.Sealed) error {
	query := `
        UPDATE integrations
        SET webhook_secret = $1,
            config         = config || jsonb_build_object($2::text, 'true'),
            updated_at     = NOW()
        WHERE id = $3 AND status <> 'REVOKED' AND config ->> $2::text IS NULL
    `
	err := r.execOne(ctx, "establish webhook secret", query, secret, marker, id)
	if !errors.Is(err, domain.ErrIntegrationNotFound) {
		return err
	}

	// ни одна строка не обновлена: записи нет или секрет уже принят
	if _, findErr := r.FindByID(ctx, id); findErr != nil {
		return findErr
	}
	return domain.ErrHookEstablished
}

// UpdateSettings сливает config и меняет настройки синхронизации; NULL оставляет значение как есть
func (r *IntegrationRepository) UpdateSettings(ctx context.Context, id string, settings domain.SettingsUpdate) (*domain.Integration, error) {
	query := `
        UPDATE integrations
        SET config         = config || $1::jsonb,
            sync_enabled   = COALESCE($2::boolean, sync_enabled),
            sync_frequency = COALESCE($3::text, sync_frequency),
            updated_at     = NOW()
        WHERE id = $4
        RETURNING ` + integrationColumns

	configJSON, err := marshalConfig(settings.Config)
	if err != nil {
		return nil, err
	}

	return r.getOne(ctx, "update integration settings", query,
		configJSON, settings.SyncEnabled, settings.SyncFrequency, id)
}

func (r *IntegrationRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Persistence(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Persistence(op, err)
	}
	if rows == 0 {
		return domain.ErrIntegrationNotFound
	}

	return nil
}

// FindByID находит интеграцию по ID
func (r *IntegrationRepository) FindByID(ctx context.Context, id string) (*domain.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`
	return r.getOne(ctx, "find integration by id", query, id)
}

// FindByOrganizationAndProvider находит интеграцию организации у провайдера
func (r *IntegrationRepository) FindByOrganizationAndProvider(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE organization_id = $1 AND provider = $2`
	return r.getOne(ctx, "find integration", query, organizationID, string(provider))
}

// FindByConfigValue находит интеграцию по значению в config
func (r *IntegrationRepository) FindByConfigValue(ctx context.Context, provider domain.Provider, key, value string) (*domain.Integration, error) {
	query := `
        SELECT ` + integrationColumns + `
        FROM integrations
        WHERE provider = $1 AND config ->> $2 = $3
        ORDER BY updated_at DESC
        LIMIT 1
    `
	return r.getOne(ctx, "find integration by config", query, string(provider), key, value)
}

// FindByOrganization находит все интеграции организации
func (r *IntegrationRepository) FindByOrganization(ctx context.Context, organizationID string) ([]*domain.Integration, error) {
	query := `
        SELECT ` + integrationColumns + `
        FROM integrations
        WHERE organization_id = $1
        ORDER BY created_at DESC
    `
	return r.getMany(ctx, "list integrations", query, organizationID)
}

// FindConnectedByProvider находит подключенные интеграции провайдера
func (r *IntegrationRepository) FindConnectedByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Integration, error) {
	query := `
        SELECT ` + integrationColumns + `
        FROM integrations
        WHERE provider = $1 AND connected
        ORDER BY created_at DESC
    `
	return r.getMany(ctx, "list connected integrations", query, string(provider))
}

func (r *IntegrationRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*domain.Integration, error) {
	var row integrationRow
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIntegrationNotFound
		}
		return nil, domain.Persistence(op, err)
	}

	integration, err := row.toDomain()
	if err != nil {
		return nil, domain.Persistence(op, err)
	}
	return integration, nil
}

func (r *IntegrationRepository) getMany(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Integration, error) {
	var rows []integrationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.Persistence(op, err)
	}

	integrations := make([]*domain.Integration, 0, len(rows))
	for i := range rows {
		integration, err := rows[i].toDomain()
		if err != nil {
			return nil, domain.Persistence(op, err)
		}
		integrations = append(integrations, integration)
	}
	return integrations, nil
}

// CreateWebhookEvent сохраняет входящее событие
func (r *IntegrationRepository) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
        INSERT INTO webhook_events (id, integration_id, event_type, payload, headers, processed, retry_count, received_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, 0, NOW())
        RETURNING id, received_at
    `

	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	err = r.db.QueryRowxContext(ctx, query,
		uuid.NewString(),
		event.IntegrationID,
		event.EventType,
		payload,
		headersJSON,
	).Scan(&event.ID, &event.ReceivedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return domain.ErrIntegrationNotFound
		}
		return domain.Persistence("store webhook event", err)
	}
	return nil
}

// ListWebhookEvents возвращает последние события интеграции
func (r *IntegrationRepository) ListWebhookEvents(ctx context.Context, integrationID string, limit int) ([]*domain.WebhookEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
        SELECT id, integration_id, event_type, payload, headers, processed, retry_count, received_at
        FROM webhook_events
        WHERE integration_id = $1
        ORDER BY received_at DESC
        LIMIT $2
    `

	var rows []webhookEventRow
	if err := r.db.SelectContext(ctx, &rows, query, integrationID, limit); err != nil {
		return nil, domain.Persistence("list webhook events", err)
	}

	events := make([]*domain.WebhookEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toDomain()
		if err != nil {
			return nil, domain.Persistence("list webhook events", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func marshalConfig(cfg map[string]string) ([]byte, error) {
	if cfg == nil {
		cfg = map[string]string{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
