package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"integrations-gateway/internal/domain"
)

// DefaultSchemes - схемы подписи поддерживаемых провайдеров
func DefaultSchemes() map[domain.Provider]Scheme {
	return map[domain.Provider]Scheme{
		domain.ProviderSlack:  SlackScheme,
		domain.ProviderGitHub: GitHubScheme,
		domain.ProviderGitLab: GitLabScheme,
		domain.ProviderAsana:  AsanaScheme,
		domain.ProviderJira:   JiraScheme,
		domain.ProviderZoom:   ZoomScheme,
	}
}

func hmacSHA256Hex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// equal сравнивает за время, не зависящее от позиции первого отличия
func equal(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}

// equalToken сравнивает общий токен
func equalToken(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func timestampFresh(raw string, now time.Time, tolerance time.Duration) bool {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	diff := now.Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// versionedTimestampScheme - "v0=" + HMAC-SHA256("v0:" + ts + ":" + body), общая для Slack и Zoom
func versionedTimestampScheme(signatureHeader, timestampHeader string) Scheme {
	return func(req SignedRequest) Result {
		signature := req.Headers.Get(signatureHeader)
		timestamp := req.Headers.Get(timestampHeader)
		if signature == "" || timestamp == "" {
			return invalid("missing signature headers")
		}
		if !timestampFresh(timestamp, req.Now, req.Tolerance) {
			return invalid("timestamp too old")
		}

		expected := "v0=" + hmacSHA256Hex(req.Secret, []byte("v0:"+timestamp+":"), req.Body)
		if !equal(signature, expected) {
			return invalid("invalid signature")
		}
		return Result{Valid: true}
	}
}

// SlackScheme - X-Slack-Signature / X-Slack-Request-Timestamp
var SlackScheme = versionedTimestampScheme("X-Slack-Signature", "X-Slack-Request-Timestamp")

// ZoomScheme - x-zm-signature / x-zm-request-timestamp
var ZoomScheme = versionedTimestampScheme("X-Zm-Signature", "X-Zm-Request-Timestamp")

// GitHubScheme - X-Hub-Signature-256: "sha256=" + HMAC-SHA256(body)
func GitHubScheme(req SignedRequest) Result {
	signature := req.Headers.Get("X-Hub-Signature-256")
	if signature == "" {
		return invalid("missing signature header")
	}
	if !equal(signature, "sha256="+hmacSHA256Hex(req.Secret, req.Body)) {
		return invalid("invalid signature")
	}
	return Result{Valid: true}
}

// AsanaScheme - X-Hook-Signature: hex HMAC-SHA256(body)
func AsanaScheme(req SignedRequest) Result {
	signature := req.Headers.Get("X-Hook-Signature")
	if signature == "" {
		return invalid("missing signature header")
	}
	if !equal(signature, hmacSHA256Hex(req.Secret, req.Body)) {
		return invalid("invalid signature")
	}
	return Result{Valid: true}
}

// ZoomValidationToken - encryptedToken для endpoint.url_validation
func ZoomValidationToken(secret, plainToken string) string {
	return hmacSHA256Hex(secret, []byte(plainToken))
}
