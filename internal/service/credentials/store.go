package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/service/encryption"
)

// ErrTokenExpired - токен просрочен, нужен refresh или повторная авторизация
var ErrTokenExpired = errors.New("integration token expired")

// ErrNotUsable - интеграция не активна или токена нет
var ErrNotUsable = errors.New("integration is not usable")

// ErrInvalidSettings - настройки от пользователя не прошли проверку
var ErrInvalidSettings = errors.New("invalid integration settings")

// Fields - данные, которые оркестратор записывает после успешного обмена.
// Токены уже зашифрованы: открытый текст сюда передать нельзя.
type Fields struct {
	DisplayName    string
	Status         domain.Status
	Connected      bool
	AccessToken    encryption.Sealed
	RefreshToken   encryption.Sealed
	TokenExpiresAt *time.Time
	Permissions    []string
	Config         map[string]string
}

// Store - адаптер хранилища учетных данных
type Store struct {
	repo   repoInterface.IntegrationRepository
	cipher *encryption.Encryptor
	now    func() time.Time
}

// NewStore создает адаптер
func NewStore(repo repoInterface.IntegrationRepository, cipher *encryption.Encryptor) *Store {
	return &Store{repo: repo, cipher: cipher, now: time.Now}
}

// UpsertIntegration создает или обновляет интеграцию по (organization_id, provider).
// Секрет вебхуков генерируется заранее, но записывается только при создании строки.
func (s *Store) UpsertIntegration(ctx context.Context, organizationID string, provider domain.Provider, fields Fields) (*domain.Integration, error) {
	if fields.Status == "" {
		fields.Status = domain.StatusActive
	}
	if fields.DisplayName == "" {
		fields.DisplayName = provider.DisplayName()
	}

	secret, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}

	integration, created, err := s.repo.Upsert(ctx, domain.IntegrationUpsert{
		OrganizationID: organizationID,
		Provider:       provider,
		DisplayName:    fields.DisplayName,
		Status:         fields.Status,
		Connected:      fields.Connected,
		AccessToken:    fields.AccessToken,
		RefreshToken:   fields.RefreshToken,
		TokenExpiresAt: fields.TokenExpiresAt,
		Permissions:    fields.Permissions,
		Config:         fields.Config,
		WebhookSecret:  secret,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", provider.String()).
		Str("organization_id", organizationID).
		Str("integration_id", integration.ID).
		Bool("created", created).
		Msg("integration credentials stored")

	return integration, nil
}

// EnsurePending создает запись PENDING при старте авторизации.
// Существующая запись не меняется, отозванная пересоздается с новым секретом.
func (s *Store) EnsurePending(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	secret, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}
	return s.repo.ResetPending(ctx, organizationID, provider, provider.DisplayName(), secret)
}

// Create заводит интеграцию PENDING до начала авторизации.
// Занятая пара (organization_id, provider) - domain.ErrIntegrationExists вместе с существующей записью.
func (s *Store) Create(ctx context.Context, organizationID string, provider domain.Provider, displayName string, config map[string]string) (*domain.Integration, error) {
	if !provider.Known() {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidSettings, provider)
	}
	if err := checkConfig(config); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = provider.DisplayName()
	}

	secret, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}

	integration, err := s.repo.Create(ctx, domain.IntegrationCreate{
		OrganizationID: organizationID,
		Provider:       provider,
		DisplayName:    displayName,
		Config:         config,
		WebhookSecret:  secret,
	})
	if err != nil {
		return integration, err
	}

	log.Info().
		Str("provider", provider.String()).
		Str("organization_id", organizationID).
		Str("integration_id", integration.ID).
		Msg("integration created")

	return integration, nil
}

// Resolve находит интеграцию организации по UUID или по имени провайдера
func (s *Store) Resolve(ctx context.Context, organizationID, ref string) (*domain.Integration, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return s.repo.FindByOrganizationAndProvider(ctx, organizationID, domain.Provider(ref))
	}

	integration, err := s.repo.FindByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	// чужая интеграция неотличима от отсутствующей
	if integration.OrganizationID != organizationID {
		return nil, domain.ErrIntegrationNotFound
	}
	return integration, nil
}

// UpdateSettings меняет пользовательские настройки интеграции.
// Ключи config, записанные сервисом, и настройки отозванной интеграции не меняются.
func (s *Store) UpdateSettings(ctx context.Context, organizationID, ref string, settings domain.SettingsUpdate) (*domain.Integration, error) {
	if err := checkConfig(settings.Config); err != nil {
		return nil, err
	}
	if settings.SyncFrequency != nil && !domain.ValidSyncFrequency(*settings.SyncFrequency) {
		return nil, fmt.Errorf("%w: unsupported sync frequency %q", ErrInvalidSettings, *settings.SyncFrequency)
	}

	integration, err := s.Resolve(ctx, organizationID, ref)
	if err != nil {
		return nil, err
	}
	if integration.Status == domain.StatusRevoked {
		return nil, fmt.Errorf("%w: integration is revoked", domain.ErrInvalidTransition)
	}

	return s.repo.UpdateSettings(ctx, integration.ID, settings)
}

func checkConfig(config map[string]string) error {
	for key := range config {
		if key == "" || domain.ManagedConfigKey(key) {
			return fmt.Errorf("%w: config key %q cannot be changed", ErrInvalidSettings, key)
		}
	}
	return nil
}

// MarkError переводит интеграцию в ERROR. Отсутствующая запись не считается ошибкой.
func (s *Store) MarkError(ctx context.Context, organizationID string, provider domain.Provider, reason string) error {
	integration, err := s.repo.FindByOrganizationAndProvider(ctx, organizationID, provider)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.markError(ctx, integration, reason)
}

func (s *Store) markError(ctx context.Context, integration *domain.Integration, reason string) error {
	if !integration.Status.CanTransition(domain.StatusError) {
		return nil
	}
	return s.repo.UpdateStatus(ctx, integration.ID, domain.StatusError, reason)
}

// Revoke отзывает интеграцию организации
func (s *Store) Revoke(ctx context.Context, organizationID string, provider domain.Provider) error {
	integration, err := s.repo.FindByOrganizationAndProvider(ctx, organizationID, provider)
	if err != nil {
		return err
	}
	if err := integration.Status.Transition(domain.StatusRevoked); err != nil {
		return err
	}
	return s.repo.Revoke(ctx, integration.ID)
}

// WebhookSecret расшифровывает секрет вебхуков интеграции
func (s *Store) WebhookSecret(integration *domain.Integration) (string, error) {
	return s.cipher.Open(integration.WebhookSecret)
}

// Find возвращает интеграцию организации у провайдера
func (s *Store) Find(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error) {
	return s.repo.FindByOrganizationAndProvider(ctx, organizationID, provider)
}

// List возвращает интеграции организации
func (s *Store) List(ctx context.Context, organizationID string) ([]*domain.Integration, error) {
	return s.repo.FindByOrganization(ctx, organizationID)
}

// AccessToken расшифровывает токен в момент использования.
// Ошибка расшифровки переводит интеграцию в ERROR.
func (s *Store) AccessToken(ctx context.Context, organizationID string, provider domain.Provider) (string, error) {
	integration, err := s.repo.FindByOrganizationAndProvider(ctx, organizationID, provider)
	if err != nil {
		return "", err
	}
	if !integration.Usable() {
		return "", ErrNotUsable
	}

	token, err := s.cipher.Open(integration.AccessToken)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", provider.String()).
			Str("organization_id", organizationID).
			Msg("stored access token cannot be decrypted")

		if markErr := s.markError(ctx, integration, "credentials cannot be decrypted, reconnect required"); markErr != nil {
			log.Error().Err(markErr).Str("integration_id", integration.ID).Msg("failed to mark integration error")
		}
		return "", err
	}

	if integration.TokenExpired(s.now()) {
		return token, ErrTokenExpired
	}
	return token, nil
}

// RefreshToken расшифровывает refresh token (для Trello здесь хранится token secret)
func (s *Store) RefreshToken(integration *domain.Integration) (string, error) {
	if integration.RefreshToken.IsZero() {
		return "", nil
	}
	return s.cipher.Open(integration.RefreshToken)
}

func (s *Store) newWebhookSecret() (encryption.Sealed, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return encryption.Sealed{}, fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return s.cipher.Seal(hex.EncodeToString(b))
}
