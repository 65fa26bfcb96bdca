package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the two token classes a login issues.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims are the JWT claims carried by both token classes. Ver is the
// identity's token_version at issue time; a pointer so an absent claim is
// distinguishable from a legitimate version zero.
type Claims struct {
	Ver       *int      `json:"ver"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Version returns the embedded token version.
func (c *Claims) Version() int {
	if c.Ver == nil {
		return -1
	}
	return *c.Ver
}

// TokenIssuer mints and verifies the signed session tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures TokenIssuer behavior.
type IssuerOption func(*TokenIssuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer signing with HS256.
func NewTokenIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration, opts ...IssuerOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	iss := &TokenIssuer{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(issuer),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue mints an access/refresh token pair for the user at the identity's
// current token version.
func (i *TokenIssuer) Issue(userID int64, tokenVersion int) (TokenPair, error) {
	now := i.now().UTC()
	access, accessExp, err := i.sign(userID, tokenVersion, TokenAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(userID, tokenVersion, TokenRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(userID int64, version int, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Ver:       &version,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies signature and expiry and requires the expected token class,
// a version claim and an integer subject. Every failure mode collapses into
// ErrInvalidToken.
func (i *TokenIssuer) Parse(raw string, want TokenType) (int64, *Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return 0, nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, nil, ErrInvalidToken
	}
	if claims.TokenType != want {
		return 0, nil, ErrInvalidToken
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return 0, nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.Ver == nil {
		return 0, nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || userID <= 0 {
		return 0, nil, ErrInvalidToken
	}
	return userID, claims, nil
}
