package oauth1

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseBody = 1 << 20

// Config - параметры OAuth1.0a провайдера
type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	// RequestTokenParams - дополнительные подписываемые параметры формы первого шага
	RequestTokenParams map[string]string
	// AuthorizeParams - параметры страницы авторизации (name, scope, expiration у Trello)
	AuthorizeParams map[string]string
}

// Credentials - пара token/secret (временная после шага 1, постоянная после шага 3)
type Credentials struct {
	Token  string
	Secret string
	// Extra - остальные поля ответа
	Extra url.Values
}

// RequestTokenError - провайдер отклонил запрос request token.
// Body - сырой ответ, обычно plain text.
type RequestTokenError struct {
	Status int
	Body   string
}

func (e *RequestTokenError) Error() string {
	return fmt.Sprintf("oauth1 request token failed: status %d", e.Status)
}

// AccessTokenError - провайдер отклонил обмен на access token
type AccessTokenError struct {
	Status int
	Body   string
}

func (e *AccessTokenError) Error() string {
	return fmt.Sprintf("oauth1 access token failed: status %d", e.Status)
}

// Client выполняет трехшаговый обмен OAuth1.0a с подписью HMAC-SHA1
type Client struct {
	cfg   Config
	http  *http.Client
	nonce func() string
	now   func() time.Time
}

// NewClient создает клиента; конфигурация передается явно
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:   cfg,
		http:  httpClient,
		nonce: randomNonce,
		now:   time.Now,
	}
}

// WithNonce подменяет генератор nonce (для проверки по эталонным векторам)
func (c *Client) WithNonce(nonce func() string) *Client {
	c.nonce = nonce
	return c
}

// WithClock подменяет часы
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// GetRequestToken - шаг 1: временный token/secret, подпись только ключами приложения
func (c *Client) GetRequestToken(ctx context.Context, callbackURL string) (*Credentials, error) {
	form := url.Values{}
	for k, v := range c.cfg.RequestTokenParams {
		form.Set(k, v)
	}

	status, body, err := c.post(ctx, c.cfg.RequestTokenURL, []Param{{Key: "oauth_callback", Value: callbackURL}}, form, "")
	if err != nil {
		return nil, fmt.Errorf("request token call failed: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, &RequestTokenError{Status: status, Body: body}
	}

	creds, ok := parseCredentials(body)
	if !ok {
		return nil, &RequestTokenError{Status: status, Body: body}
	}
	return creds, nil
}

// BuildAuthorizeURL - шаг 2: только сборка строки, без подписи и сети
func (c *Client) BuildAuthorizeURL(token string) string {
	q := url.Values{}
	for k, v := range c.cfg.AuthorizeParams {
		q.Set(k, v)
	}
	q.Set("oauth_token", token)

	sep := "?"
	if strings.Contains(c.cfg.AuthorizeURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthorizeURL + sep + q.Encode()
}

// GetAccessToken - шаг 3: обмен временной пары и verifier на постоянные token/secret
func (c *Client) GetAccessToken(ctx context.Context, token, verifier, tokenSecret string) (*Credentials, error) {
	extra := []Param{
		{Key: "oauth_token", Value: token},
		{Key: "oauth_verifier", Value: verifier},
	}

	status, body, err := c.post(ctx, c.cfg.AccessTokenURL, extra, nil, tokenSecret)
	if err != nil {
		return nil, fmt.Errorf("access token call failed: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, &AccessTokenError{Status: status, Body: body}
	}

	creds, ok := parseCredentials(body)
	if !ok {
		return nil, &AccessTokenError{Status: status, Body: body}
	}
	return creds, nil
}

// AuthorizationFor подписывает произвольный запрос постоянными token/secret
func (c *Client) AuthorizationFor(method string, u *url.URL, form url.Values, token, tokenSecret string) string {
	return c.authorization(method, u, []Param{{Key: "oauth_token", Value: token}}, form, tokenSecret)
}

func (c *Client) authorization(method string, u *url.URL, extra []Param, form url.Values, tokenSecret string) string {
	oauthParams := []Param{
		{Key: "oauth_consumer_key", Value: c.cfg.ConsumerKey},
		{Key: "oauth_nonce", Value: c.nonce()},
		{Key: "oauth_signature_method", Value: "HMAC-SHA1"},
		{Key: "oauth_timestamp", Value: strconv.FormatInt(c.now().Unix(), 10)},
		{Key: "oauth_version", Value: "1.0"},
	}
	oauthParams = append(oauthParams, extra...)

	signed := append([]Param(nil), oauthParams...)
	for k, vs := range form {
		for _, v := range vs {
			signed = append(signed, Param{Key: k, Value: v})
		}
	}

	base := SignatureBaseString(method, u, signed)
	oauthParams = append(oauthParams, Param{Key: "oauth_signature", Value: Sign(base, c.cfg.ConsumerSecret, tokenSecret)})
	return AuthorizationHeader(oauthParams)
}

func (c *Client) post(ctx context.Context, rawURL string, extra []Param, form url.Values, tokenSecret string) (int, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, "", fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", c.authorization(http.MethodPost, u, extra, form, tokenSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func parseCredentials(body string) (*Credentials, bool) {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return nil, false
	}
	creds := &Credentials{
		Token:  values.Get("oauth_token"),
		Secret: values.Get("oauth_token_secret"),
		Extra:  values,
	}
	if creds.Token == "" || creds.Secret == "" {
		return nil, false
	}
	return creds, true
}

func randomNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand не возвращает ошибок на поддерживаемых платформах
		panic(err)
	}
	return hex.EncodeToString(b)
}
