package auth

import (
	"errors"
	"time"

	"contact-center/internal/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenType     = errors.New("auth: token_type mismatch")
	ErrMissingClaims = errors.New("auth: required claim missing")
	ErrSigningMethod = errors.New("auth: unsupported signing method")
)

// asymmetricMethods are accepted only when a JWKS is configured.
var asymmetricMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Manager issues and verifies HS256 tokens for the agent and routing API.
// With a JWKS attached it also accepts access tokens signed by an external
// identity provider.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration

	jwks keyfunc.Keyfunc
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (m *Manager) IssuePair(now time.Time, id Identity) (TokenPair, error) {
	access, err := m.issue(now, TokenTypeAccess, id, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	// refresh tokens carry neither role nor agent binding
	refresh, err := m.issue(now, TokenTypeRefresh, Identity{UserID: id.UserID, TenantID: id.TenantID}, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.accessTTL / time.Second),
	}, nil
}

// UseJWKS enables verification of provider-signed tokens against k.
func (m *Manager) UseJWKS(k keyfunc.Keyfunc) { m.jwks = k }

func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	methods := []string{jwt.SigningMethodHS256.Alg()}
	if m.jwks != nil {
		methods = append(methods, asymmetricMethods...)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(methods),
		jwt.WithoutClaimsValidation(),
	)
	external := false
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			return m.secret, nil
		}
		if m.jwks == nil {
			return nil, ErrSigningMethod
		}
		external = true
		return m.jwks.Keyfunc(token)
	}); err != nil {
		return Claims{}, err
	}
	// provider-issued tokens are always access tokens and may omit token_type
	if external && claims.TokenType == "" {
		claims.TokenType = TokenTypeAccess
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, ErrTokenType
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" || claims.TenantID == "" {
		return Claims{}, ErrMissingClaims
	}
	if expected == TokenTypeAccess && claims.Role == "" {
		return Claims{}, ErrMissingClaims
	}
	return claims, nil
}

func (m *Manager) issue(now time.Time, tokenType TokenType, id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:    id.UserID,
		TenantID:  id.TenantID,
		Role:      id.Role,
		AgentID:   id.AgentID,
		TokenType: tokenType,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
