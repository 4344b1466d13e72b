package oauthstate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL совпадает со временем жизни cookie в OAuth1.0a потоке
const DefaultTTL = 10 * time.Minute

// ErrInvalidState - state подделан, просрочен или не декодируется
var ErrInvalidState = errors.New("invalid oauth state")

// InvalidStateError уточняет причину отказа, errors.Is(err, ErrInvalidState) == true
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidState.Error(), e.Reason)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func invalid(reason string) error { return &InvalidStateError{Reason: reason} }

// State - содержимое проверенного state
type State struct {
	Provider       string
	OrganizationID string
	Nonce          string
	IssuedAt       time.Time
}

type claims struct {
	Provider       string `json:"prv"`
	OrganizationID string `json:"org"`
	jwt.RegisteredClaims
}

// Codec выпускает и проверяет подписанный state (JWT HS256).
// Хранилище не нужно: все данные внутри токена.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec создает кодек; ttl <= 0 означает DefaultTTL
func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// TTL возвращает время жизни state
func (c *Codec) TTL() time.Duration { return c.ttl }

// Generate создает state для провайдера и организации
func (c *Codec) Generate(provider, organizationID string) (string, error) {
	if provider == "" || organizationID == "" {
		return "", fmt.Errorf("provider and organization are required")
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}

	issued := c.now().UTC().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Provider:       provider,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.ttl)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и срок жизни state.
// Любая ошибка удовлетворяет errors.Is(err, ErrInvalidState).
func (c *Codec) Verify(state string) (*State, error) {
	if state == "" {
		return nil, invalid("empty")
	}

	var cl claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	token, err := parser.ParseWithClaims(state, &cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, invalid("expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, invalid("signature mismatch")
		default:
			return nil, invalid(err.Error())
		}
	}
	if !token.Valid {
		return nil, invalid("not valid")
	}

	if cl.Provider == "" || cl.OrganizationID == "" || cl.ID == "" || cl.IssuedAt == nil {
		return nil, invalid("missing claims")
	}

	// TTL отсчитывается от iat независимо от exp
	issued := cl.IssuedAt.Time
	if c.now().Sub(issued) > c.ttl {
		return nil, invalid("expired")
	}

	return &State{
		Provider:       cl.Provider,
		OrganizationID: cl.OrganizationID,
		Nonce:          cl.ID,
		IssuedAt:       issued,
	}, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
