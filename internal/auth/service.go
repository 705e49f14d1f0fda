// Package auth verifies access tokens issued by the account service.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	pkgerrors "judgeflow/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenBlacklistKey is the Redis set of revoked token hashes.
const TokenBlacklistKey = "grader:token:blacklist"

const defaultBlacklistTimeout = 200 * time.Millisecond

// UserInfo is the identity carried by a valid access token.
type UserInfo struct {
	ID   int64
	Role string
}

// Config configures token verification.
type Config struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
	// BlacklistTimeout bounds the revocation lookup.
	BlacklistTimeout time.Duration `yaml:"blacklistTimeout"`
}

// Service verifies HS256 access tokens.
type Service struct {
	jwtSecret        []byte
	jwtIssuer        string
	blacklist        cache.SetOps
	blacklistTimeout time.Duration
}

// NewService creates a Service. blacklist may be nil to skip revocation checks.
func NewService(cfg Config, blacklist cache.SetOps) *Service {
	timeout := cfg.BlacklistTimeout
	if timeout <= 0 {
		timeout = defaultBlacklistTimeout
	}
	return &Service{
		jwtSecret:        []byte(cfg.JWTSecret),
		jwtIssuer:        cfg.JWTIssuer,
		blacklist:        blacklist,
		blacklistTimeout: timeout,
	}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate validates raw and returns the user it was issued to.
func (s *Service) Authenticate(ctx context.Context, raw string) (UserInfo, error) {
	if raw == "" {
		return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return UserInfo{}, err
	}
	userID, err := parseUserID(claims.Subject)
	if err != nil {
		return UserInfo{}, err
	}
	if s.blacklist != nil {
		ctxCache, cancel := context.WithTimeout(ctx, s.blacklistTimeout)
		defer cancel()
		revoked, err := s.blacklist.SIsMember(ctxCache, TokenBlacklistKey, HashToken(raw))
		if err != nil {
			return UserInfo{}, pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
		}
		if revoked {
			return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
		}
	}
	return UserInfo{ID: userID, Role: claims.Role}, nil
}

func (s *Service) parseToken(raw string) (*tokenClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.jwtIssuer != "" && claims.Issuer != s.jwtIssuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

func parseUserID(subject string) (int64, error) {
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return userID, nil
}

// HashToken returns the blacklist member form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
