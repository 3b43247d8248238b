package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-storefront/internal/model"
)

const refreshTokenBytes = 64

type TokenConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ExpiresIn time.Duration
}

type accessClaims struct {
	Name  string   `json:"name"`
	UID   string   `json:"uid"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret    []byte
	issuer    string
	audience  string
	expiresIn time.Duration
	now       func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("token issuer: signing key is required")
	case cfg.Issuer == "":
		return nil, errors.New("token issuer: issuer is required")
	case cfg.Audience == "":
		return nil, errors.New("token issuer: audience is required")
	}

	expiresIn := cfg.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 60 * time.Minute
	}

	return &TokenIssuer{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		expiresIn: expiresIn,
		now:       utcNow,
	}, nil
}

// IssueAccessToken signs an HS256 token for user carrying one roles entry per
// role.
func (i *TokenIssuer) IssueAccessToken(user model.User, roles []string) (string, time.Time, error) {
	if len(roles) == 0 {
		return "", time.Time{}, model.ErrNoRolesAssigned
	}

	now := i.now()
	expiresAt := now.Add(i.expiresIn)
	claims := accessClaims{
		Name:  user.Username,
		UID:   user.ID,
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// IssueRefreshToken returns 64 random bytes, standard base64 encoded.
func (i *TokenIssuer) IssueRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (i *TokenIssuer) ParseAccessToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidAccessToken, err)
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || claims.UID == "" || claims.Subject == "" {
		return nil, model.ErrInvalidAccessToken
	}

	return &model.AuthClaims{
		UserID:    claims.UID,
		Username:  claims.Subject,
		Roles:     claims.Roles,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
