// Путь: internal/repository/memory/integration_repo.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/service/encryption"
)

// IntegrationRepository - реализация в памяти процесса (тесты, локальный запуск)
type IntegrationRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Integration
	events []*domain.WebhookEvent
	now    func() time.Time
}

var _ repoInterface.IntegrationRepository = (*IntegrationRepository)(nil)

// NewIntegrationRepository создает пустой репозиторий
func NewIntegrationRepository() *IntegrationRepository {
	return &IntegrationRepository{
		byID: make(map[string]*domain.Integration),
		now:  time.Now,
	}
}

func (r *IntegrationRepository) find(orgID string, provider domain.Provider) *domain.Integration {
	for _, it := range r.byID {
		if it.OrganizationID == orgID && it.Provider == provider {
			return it
		}
	}
	return nil
}

// Upsert создает или обновляет интеграцию под одной блокировкой.
// Отозванная запись не обновляется: ее возвращает к жизни только ResetPending.
func (r *IntegrationRepository) Upsert(ctx context.Context, in domain.IntegrationUpsert) (*domain.Integration, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	it := r.find(in.OrganizationID, in.Provider)
	if it != nil && it.Status == domain.StatusRevoked {
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, it.Status, in.Status)
	}
	created := it == nil
	if created {
		it = &domain.Integration{
			ID:             uuid.NewString(),
			OrganizationID: in.OrganizationID,
			Provider:       in.Provider,
			WebhookSecret:  in.WebhookSecret,
			Config:         map[string]string{},
			SyncEnabled:    true,
			SyncFrequency:  domain.DefaultSyncFrequency,
			CreatedAt:      now,
		}
		r.byID[it.ID] = it
	}

	if in.DisplayName != "" {
		it.DisplayName = in.DisplayName
	}
	it.Status = in.Status
	it.Connected = in.Connected
	it.AccessToken = in.AccessToken
	it.RefreshToken = in.RefreshToken
	it.TokenExpiresAt = in.TokenExpiresAt
	it.Permissions = append([]string(nil), in.Permissions...)
	for k, v := range in.Config {
		it.Config[k] = v
	}
	it.ErrorMessage = ""
	it.UpdatedAt = now

	return clone(it), created, nil
}

// Create создает запись PENDING, если пары (organization_id, provider) еще нет
func (r *IntegrationRepository) Create(ctx context.Context, in domain.IntegrationCreate) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.find(in.OrganizationID, in.Provider); existing != nil {
		return clone(existing), domain.ErrIntegrationExists
	}

	now := r.now().UTC()
	it := &domain.Integration{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Provider:       in.Provider,
		DisplayName:    in.DisplayName,
		Status:         domain.StatusPending,
		WebhookSecret:  in.WebhookSecret,
		Config:         map[string]string{},
		SyncEnabled:    true,
		SyncFrequency:  domain.DefaultSyncFrequency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for k, v := range in.Config {
		it.Config[k] = v
	}
	r.byID[it.ID] = it

	return clone(it), nil
}

// ResetPending создает запись PENDING или пересоздает отозванную
func (r *IntegrationRepository) ResetPending(ctx context.Context, organizationID string, provider domain.Provider, displayName string, secret encryption.Sealed) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	it := r.find(organizationID, provider)
	switch {
	case it == nil:
		it = &domain.Integration{
			ID:             uuid.NewString(),
			OrganizationID: organizationID,
			Provider:       provider,
			DisplayName:    displayName,
			Status:         domain.StatusPending,
			WebhookSecret:  secret,
			Config:         map[string]string{},
			SyncEnabled:    true,
			SyncFrequency:  domain.DefaultSyncFrequency,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		r.byID[it.ID] = it
	case it.Status == domain.StatusRevoked:
		it.Status = domain.StatusPending
		it.Connected = false
		it.AccessToken = encryption.Sealed{}
		it.RefreshToken = encryption.Sealed{}
		it.TokenExpiresAt = nil
		it.Permissions = nil
		it.WebhookSecret = secret
		it.Config = map[string]string{}
		it.ErrorMessage = ""
		it.UpdatedAt = now
	}

	return clone(it), nil
}

// UpdateStatus меняет статус и текст ошибки
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.byID[id]
	if !ok {
		return domain.ErrIntegrationNotFound
	}
	it.Status = status
	it.ErrorMessage = message
	it.UpdatedAt = r.now().UTC()
	return nil
}

// Revoke отзывает интеграцию и стирает токены
func (r *IntegrationRepository) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.byID[id]
	if !ok {
		return domain.ErrIntegrationNotFound
	}
	it.Status = domain.StatusRevoked
	it.Connected = false
	it.AccessToken = encryption.Sealed{}
	it.RefreshToken = encryption.Sealed{}
	it.TokenExpiresAt = nil
	it.UpdatedAt = r.now().UTC()
	return nil
}

// EstablishWebhookSecret принимает секрет подписки один раз
func (r *IntegrationRepository) EstablishWebhookSecret(ctx context.Context, id, marker string, secret encryption.Sealed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.byID[id]
	if !ok {
		return domain.ErrIntegrationNotFound
	}
	if _, established := it.Config[marker]; established || it.Status == domain.StatusRevoked {
		return domain.ErrHookEstablished
	}
	it.WebhookSecret = secret
	it.Config[marker] = "true"
	it.UpdatedAt = r.now().UTC()
	return nil
}

// UpdateSettings сливает config и меняет настройки синхронизации
func (r *IntegrationRepository) UpdateSettings(ctx context.Context, id string, settings domain.SettingsUpdate) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	for k, v := range settings.Config {
		it.Config[k] = v
	}
	if settings.SyncEnabled != nil {
		it.SyncEnabled = *settings.SyncEnabled
	}
	if settings.SyncFrequency != nil {
		it.SyncFrequency = *settings.SyncFrequency
	}
	it.UpdatedAt = r.now().UTC()

	return clone(it), nil
}

// FindByID находит интеграцию по ID
func (r *IntegrationRepository) FindByID(ctx context.Context, id string) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	return clone(it), nil
}

// FindByOrganizationAndProvider находит интеграцию организации у провайдера
func (r *IntegrationRepository) FindByOrganizationAndProvider(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it := r.find(organizationID, provider)
	if it == nil {
		return nil, domain.ErrIntegrationNotFound
	}
	return clone(it), nil
}

// FindByOrganization возвращает все интеграции организации, новые первыми
func (r *IntegrationRepository) FindByOrganization(ctx context.Context, organizationID string) ([]*domain.Integration, error) {
	return r.filter(func(it *domain.Integration) bool { return it.OrganizationID == organizationID }), nil
}

// FindConnectedByProvider возвращает подключенные интеграции провайдера
func (r *IntegrationRepository) FindConnectedByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Integration, error) {
	return r.filter(func(it *domain.Integration) bool { return it.Provider == provider && it.Connected }), nil
}

// FindByConfigValue находит интеграцию по значению в config (например, team_id Slack)
func (r *IntegrationRepository) FindByConfigValue(ctx context.Context, provider domain.Provider, key, value string) (*domain.Integration, error) {
	found := r.filter(func(it *domain.Integration) bool {
		return it.Provider == provider && it.Config[key] == value
	})
	if len(found) == 0 {
		return nil, domain.ErrIntegrationNotFound
	}
	return found[0], nil
}

func (r *IntegrationRepository) filter(match func(*domain.Integration) bool) []*domain.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Integration
	for _, it := range r.byID {
		if match(it) {
			out = append(out, clone(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CreateWebhookEvent сохраняет событие
func (r *IntegrationRepository) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[event.IntegrationID]; !ok {
		return domain.ErrIntegrationNotFound
	}
	event.ID = uuid.NewString()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.now().UTC()
	}
	stored := *event
	r.events = append(r.events, &stored)
	return nil
}

// ListWebhookEvents возвращает последние события интеграции
func (r *IntegrationRepository) ListWebhookEvents(ctx context.Context, integrationID string, limit int) ([]*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.WebhookEvent
	for i := len(r.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.events[i].IntegrationID == integrationID {
			ev := *r.events[i]
			out = append(out, &ev)
		}
	}
	return out, nil
}

// Count возвращает число интеграций (для тестов)
func (r *IntegrationRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func clone(it *domain.Integration) *domain.Integration {
	c := *it
	c.Permissions = append([]string(nil), it.Permissions...)
	c.Config = make(map[string]string, len(it.Config))
	for k, v := range it.Config {
		c.Config[k] = v
	}
	if it.TokenExpiresAt != nil {
		t := *it.TokenExpiresAt
		c.TokenExpiresAt = &t
	}
	return &c
}
