package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AuthStyle - способ передачи client_id/client_secret в token endpoint
type AuthStyle int

const (
	// AuthStyleInParams - в теле формы (Slack, GitHub)
	AuthStyleInParams AuthStyle = iota
	// AuthStyleInHeader - HTTP Basic (Zoom)
	AuthStyleInHeader
)

const maxResponseBody = 1 << 20

// Config - параметры провайдера для одного вызова
type Config struct {
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	AuthorizationURL string
	TokenURL         string
	Scopes           []string
	AuthStyle        AuthStyle
	// ScopeParam - имя параметра со списком scope, по умолчанию "scope"
	ScopeParam      string
	ExtraAuthParams map[string]string
}

// Token - нормализованный ответ token endpoint
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	// Raw - весь ответ провайдера (например team у Slack)
	Raw map[string]interface{}
}

// ExpiresAt возвращает момент истечения или nil для бессрочного токена
func (t *Token) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

// Permissions разбирает scope; провайдеры разделяют его пробелом или запятой
func (t *Token) Permissions() []string {
	fields := strings.FieldsFunc(t.Scope, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return []string{}
	}
	return fields
}

// TokenExchangeError - провайдер отклонил обмен.
// Body пишется только в серверный лог.
type TokenExchangeError struct {
	Status int
	Body   string
	Reason string
}

func (e *TokenExchangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("token exchange failed: status %d", e.Status)
}

// Client выполняет обмен кода на токен. Повторов нет: код одноразовый.
type Client struct {
	http *http.Client
}

// New создает клиента с обязательным конечным таймаутом
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// NewWithHTTPClient использует готовый http.Client
func NewWithHTTPClient(c *http.Client) *Client {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return &Client{http: c}
}

// HTTPClient возвращает используемый http.Client
func (c *Client) HTTPClient() *http.Client { return c.http }

// BuildAuthorizationURL строит URL авторизации: client_id, redirect_uri,
// response_type=code, scope через пробел и state
func (c *Client) BuildAuthorizationURL(cfg Config, state string) string {
	oc := oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthorizationURL, TokenURL: cfg.TokenURL},
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(cfg.ExtraAuthParams)+1)
	if cfg.ScopeParam == "" || cfg.ScopeParam == "scope" {
		oc.Scopes = cfg.Scopes
	} else if len(cfg.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam(cfg.ScopeParam, strings.Join(cfg.Scopes, " ")))
	}
	for k, v := range cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return oc.AuthCodeURL(state, opts...)
}

// ExchangeCodeForToken меняет код на токен. redirect_uri передается ровно тот же,
// что и при авторизации, иначе провайдер отклонит запрос.
func (c *Client) ExchangeCodeForToken(ctx context.Context, cfg Config, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURI)
	return c.postToken(ctx, cfg, form)
}

// RefreshToken обновляет access token по refresh token
func (c *Client) RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, cfg, form)
}

func (c *Client) postToken(ctx context.Context, cfg Config, form url.Values) (*Token, error) {
	if cfg.AuthStyle == AuthStyleInParams {
		form.Set("client_id", cfg.ClientID)
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if cfg.AuthStyle == AuthStyleInHeader {
		req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: string(body)}
	}

	raw, err := decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: string(body), Reason: "undecodable response"}
	}

	// Slack отвечает 200 с ok=false
	if ok, present := raw["ok"].(bool); present && !ok {
		reason, _ := raw["error"].(string)
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: string(body), Reason: reason}
	}

	token := &Token{
		AccessToken:  stringField(raw, "access_token"),
		RefreshToken: stringField(raw, "refresh_token"),
		TokenType:    stringField(raw, "token_type"),
		Scope:        stringField(raw, "scope"),
		ExpiresIn:    intField(raw, "expires_in"),
		Raw:          raw,
	}
	if token.AccessToken == "" {
		reason := stringField(raw, "error")
		if reason == "" {
			reason = "missing access_token"
		}
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: string(body), Reason: reason}
	}

	return token, nil
}

func decodeBody(contentType string, body []byte) (map[string]interface{}, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "text/plain" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		raw := make(map[string]interface{}, len(values))
		for k := range values {
			raw[k] = values.Get(k)
		}
		return raw, nil
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func stringField(raw map[string]interface{}, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

func intField(raw map[string]interface{}, key string) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
