package domain

import (
	"encoding/json"
	"time"

	"integrations-gateway/internal/service/encryption"
)

// Provider - идентификатор стороннего сервиса
type Provider string

const (
	ProviderSlack  Provider = "slack"
	ProviderZoom   Provider = "zoom"
	ProviderGitHub Provider = "github"
	ProviderTrello Provider = "trello"
	ProviderGitLab Provider = "gitlab"
	ProviderAsana  Provider = "asana"
	ProviderJira   Provider = "jira"
)

func (p Provider) String() string { return string(p) }

// Known сообщает, что провайдер поддерживается
func (p Provider) Known() bool {
	switch p {
	case ProviderSlack, ProviderZoom, ProviderGitHub, ProviderTrello, ProviderGitLab, ProviderAsana, ProviderJira:
		return true
	}
	return false
}

// DisplayName возвращает человекочитаемое имя провайдера
func (p Provider) DisplayName() string {
	switch p {
	case ProviderSlack:
		return "Slack"
	case ProviderZoom:
		return "Zoom"
	case ProviderGitHub:
		return "GitHub"
	case ProviderTrello:
		return "Trello"
	case ProviderGitLab:
		return "GitLab"
	case ProviderAsana:
		return "Asana"
	case ProviderJira:
		return "Jira"
	}
	return string(p)
}

// Integration - подключение одной организации к одному провайдеру.
// Токены и секрет вебхуков хранятся только в зашифрованном виде.
type Integration struct {
	ID             string            `db:"id" json:"id"`
	OrganizationID string            `db:"organization_id" json:"organization_id"`
	Provider       Provider          `db:"provider" json:"provider"`
	DisplayName    string            `db:"display_name" json:"display_name"`
	Status         Status            `db:"status" json:"status"`
	Connected      bool              `db:"connected" json:"connected"`
	AccessToken    encryption.Sealed `db:"access_token" json:"-"`
	RefreshToken   encryption.Sealed `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time        `db:"token_expires_at" json:"token_expires_at"`
	Permissions    []string          `db:"permissions" json:"permissions"`
	WebhookSecret  encryption.Sealed `db:"webhook_secret" json:"-"`
	Config         map[string]string `db:"config" json:"config"`
	ErrorMessage   string            `db:"error_message" json:"error_message,omitempty"`
	SyncEnabled    bool              `db:"sync_enabled" json:"sync_enabled"`
	SyncFrequency  string            `db:"sync_frequency" json:"sync_frequency"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// TokenExpired сообщает, что срок действия токена истек.
// Пустой TokenExpiresAt означает бессрочный токен.
func (i *Integration) TokenExpired(now time.Time) bool {
	return i.TokenExpiresAt != nil && !now.Before(*i.TokenExpiresAt)
}

// Usable - интеграция активна и у нее есть токен
func (i *Integration) Usable() bool {
	return i.Status == StatusActive && !i.AccessToken.IsZero()
}

// IntegrationUpsert - поля, записываемые при создании или обновлении интеграции.
// Токены принимаются только как encryption.Sealed.
type IntegrationUpsert struct {
	OrganizationID string
	Provider       Provider
	DisplayName    string
	Status         Status
	Connected      bool
	AccessToken    encryption.Sealed
	RefreshToken   encryption.Sealed
	TokenExpiresAt *time.Time
	Permissions    []string
	Config         map[string]string
	// WebhookSecret используется только если строка создается впервые
	WebhookSecret encryption.Sealed
}

// Ключи config, которые записывает сам сервис. Пользователь их не меняет:
// по ним маршрутизируются вебхуки.
var managedConfigKeys = map[string]bool{
	"team_id":                true,
	"team_name":              true,
	"bot_user_id":            true,
	"app_id":                 true,
	"account_id":             true,
	"token_type":             true,
	"asana_hook_established": true,
}

// ManagedConfigKey сообщает, что ключ config принадлежит сервису
func ManagedConfigKey(key string) bool {
	return managedConfigKeys[key]
}

// DefaultSyncFrequency - частота синхронизации новой интеграции
const DefaultSyncFrequency = "hourly"

var syncFrequencies = map[string]bool{
	"realtime": true,
	"hourly":   true,
	"daily":    true,
	"weekly":   true,
}

// ValidSyncFrequency проверяет значение sync_frequency
func ValidSyncFrequency(f string) bool {
	return syncFrequencies[f]
}

// SettingsUpdate - изменяемые пользователем настройки. nil-поля не меняются,
// Config сливается с текущим.
type SettingsUpdate struct {
	Config        map[string]string
	SyncEnabled   *bool
	SyncFrequency *string
}

// IntegrationCreate - заготовка интеграции до начала авторизации
type IntegrationCreate struct {
	OrganizationID string
	Provider       Provider
	DisplayName    string
	Config         map[string]string
	WebhookSecret  encryption.Sealed
}

// WebhookEvent - входящее событие провайдера, сохраненное для асинхронной обработки
type WebhookEvent struct {
	ID            string            `db:"id" json:"id"`
	IntegrationID string            `db:"integration_id" json:"integration_id"`
	EventType     string            `db:"event_type" json:"event_type"`
	Payload       json.RawMessage   `db:"payload" json:"payload"`
	Headers       map[string]string `db:"headers" json:"headers"`
	Processed     bool              `db:"processed" json:"processed"`
	RetryCount    int               `db:"retry_count" json:"retry_count"`
	ReceivedAt    time.Time         `db:"received_at" json:"received_at"`
}
