package connect

import (
	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/oauth2client"
)

// Адреса провайдеров по умолчанию
const (
	SlackAuthorizationURL  = "https://slack.com/oauth/v2/authorize"
	SlackTokenURL          = "https://slack.com/api/oauth.v2.access"
	GitHubAuthorizationURL = "https://github.com/login/oauth/authorize"
	GitHubTokenURL         = "https://github.com/login/oauth/access_token"
	ZoomAuthorizationURL   = "https://zoom.us/oauth/authorize"
	ZoomTokenURL           = "https://zoom.us/oauth/token"
)

// Scope по умолчанию
var (
	SlackScopes  = []string{"chat:write", "incoming-webhook", "channels:read", "users:read"}
	GitHubScopes = []string{"repo", "read:org", "admin:repo_hook"}
	ZoomScopes   = []string{"meeting:read", "user:read"}
)

// ClientCredentials - ключи приложения у провайдера. Пустые URL заменяются адресами по умолчанию.
type ClientCredentials struct {
	ClientID         string
	ClientSecret     string
	AuthorizationURL string
	TokenURL         string
	Scopes           []string
}

// Configured - заданы ли ключи приложения
func (c ClientCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c ClientCredentials) config(authURL, tokenURL string, scopes []string, style oauth2client.AuthStyle) oauth2client.Config {
	cfg := oauth2client.Config{
		ClientID:         c.ClientID,
		ClientSecret:     c.ClientSecret,
		AuthorizationURL: c.AuthorizationURL,
		TokenURL:         c.TokenURL,
		Scopes:           c.Scopes,
		AuthStyle:        style,
	}
	if cfg.AuthorizationURL == "" {
		cfg.AuthorizationURL = authURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = tokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = scopes
	}
	return cfg
}

// NewSlack - Slack OAuth v2. Токен бота выдается без срока действия.
func NewSlack(deps Deps, client *oauth2client.Client, creds ClientCredentials) *OAuth2Connector {
	cfg := creds.config(SlackAuthorizationURL, SlackTokenURL, SlackScopes, oauth2client.AuthStyleInParams)
	return NewOAuth2(domain.ProviderSlack, deps, client, cfg, slackConfig)
}

// slackConfig сохраняет рабочее пространство: по team_id маршрутизируются события Slack
func slackConfig(token *oauth2client.Token) map[string]string {
	config := map[string]string{}
	if team, ok := token.Raw["team"].(map[string]interface{}); ok {
		if id, ok := team["id"].(string); ok {
			config["team_id"] = id
		}
		if name, ok := team["name"].(string); ok {
			config["team_name"] = name
		}
	}
	for _, key := range []string{"bot_user_id", "app_id"} {
		if v, ok := token.Raw[key].(string); ok && v != "" {
			config[key] = v
		}
	}
	return config
}

// NewGitHub - GitHub OAuth App
func NewGitHub(deps Deps, client *oauth2client.Client, creds ClientCredentials) *OAuth2Connector {
	cfg := creds.config(GitHubAuthorizationURL, GitHubTokenURL, GitHubScopes, oauth2client.AuthStyleInParams)
	return NewOAuth2(domain.ProviderGitHub, deps, client, cfg, func(token *oauth2client.Token) map[string]string {
		if token.TokenType == "" {
			return nil
		}
		return map[string]string{"token_type": token.TokenType}
	})
}
