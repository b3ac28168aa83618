package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

var (
	ErrMissingUser  = errors.New("token has no user_id")
	ErrUnknownActor = errors.New("token names an unknown actor")
)

// Verifier проверяет RS256 токены API и персону, от имени которой действует пользователь.
type Verifier struct {
	key        *rsa.PublicKey
	parser     *jwt.Parser
	knownActor func(id string) bool
}

type verifierConfig struct {
	issuer     string
	leeway     time.Duration
	knownActor func(id string) bool
}

type VerifierOption func(*verifierConfig)

// WithIssuer требует совпадения claim "iss".
func WithIssuer(iss string) VerifierOption {
	return func(c *verifierConfig) { c.issuer = iss }
}

// WithLeeway допускает расхождение часов при проверке exp/nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.leeway = d }
}

// WithActorCheck отклоняет токены с actor_id, которого нет в реестре персон.
// Пустой actor_id допустим: тогда используется персона по умолчанию.
func WithActorCheck(known func(id string) bool) VerifierOption {
	return func(c *verifierConfig) { c.knownActor = known }
}

func NewVerifier(key *rsa.PublicKey, opts ...VerifierOption) *Verifier {
	var cfg verifierConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if cfg.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.issuer))
	}
	if cfg.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.leeway))
	}

	return &Verifier{
		key:        key,
		parser:     jwt.NewParser(parserOpts...),
		knownActor: cfg.knownActor,
	}
}

// NewVerifierFromPEM — то же, что NewVerifier, но ключ приходит из конфига как PEM.
func NewVerifierFromPEM(pemData []byte, opts ...VerifierOption) (*Verifier, error) {
	key, err := ParseRSAPublicKey(pemData)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key, opts...), nil
}

// VerifyToken принимает значение заголовка Authorization как есть, с префиксом Bearer или без.
func (v *Verifier) VerifyToken(raw string) (*domain.CustomClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("invalid token: empty")
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	if claims.ActorID != "" && v.knownActor != nil && !v.knownActor(claims.ActorID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActor, claims.ActorID)
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
