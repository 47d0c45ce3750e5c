package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bargom/errledger/pkg/logging"
)

// Roles checked by the API.
const (
	// RoleReporter may submit events.
	RoleReporter = "reporter"
	// RoleOperator may fail paused executions.
	RoleOperator = "operator"
)

// Principal is the caller identified by a validated token.
type Principal struct {
	Subject   string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole checks if the principal has the specified role.
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Config holds JWT validation configuration.
type Config struct {
	// Enabled turns token validation on for mutating endpoints.
	Enabled    bool   `mapstructure:"enabled"`
	Issuer     string `mapstructure:"issuer"`      // expected iss claim
	Audience   string `mapstructure:"audience"`    // expected aud claim
	Secret     string `mapstructure:"secret"`      // HS256/HS384/HS512 key
	PublicKey  string `mapstructure:"public_key"`  // PEM RSA key for RS256/RS384/RS512
	RolesClaim string `mapstructure:"roles_claim"` // defaults to "roles"
}

// Validate checks that an enabled configuration has a key.
func (c Config) Validate() error {
	if c.Enabled && c.Secret == "" && c.PublicKey == "" {
		return errors.New("auth: secret or public_key is required when enabled")
	}
	return nil
}

// Validator validates JWTs and extracts the principal.
type Validator struct {
	config    Config
	publicKey *rsa.PublicKey
	logger    *slog.Logger
}

// NewValidator creates a new JWT validator with the given configuration.
func NewValidator(config Config, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{config: config, logger: logging.Component(logger, "jwt-validator")}
	if config.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %w", err)
		}
		v.publicKey = key
	}
	return v, nil
}

// ValidateToken validates a JWT string and returns the caller.
func (v *Validator) ValidateToken(ctx context.Context, tokenStr string) (*Principal, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	var opts []jwt.ParserOption
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.key(t.Method.Alg())
	}, opts...)
	if err != nil {
		v.logger.DebugContext(ctx, "token validation failed", "error", err)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	p := &Principal{}
	p.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	rolesClaim := v.config.RolesClaim
	if rolesClaim == "" {
		rolesClaim = "roles"
	}
	p.Roles = stringListClaim(claims, rolesClaim)
	return p, nil
}

func (v *Validator) key(alg string) (interface{}, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
		if v.config.Secret == "" {
			return nil, ErrNoSecretConfigured
		}
		return []byte(v.config.Secret), nil
	case "RS256", "RS384", "RS512":
		if v.publicKey == nil {
			return nil, ErrNoPublicKeyConfigured
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// stringListClaim handles []interface{}, []string, and space-separated
// string formats.
func stringListClaim(claims jwt.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.Fields(v)
	}
	return nil
}
