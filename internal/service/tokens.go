package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/internal/realtime"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/models"
)

type TokenData struct {
	Entity string // user id, or EntityRoot for the operator key
	IsRoot bool
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// validateToken resolves the Authorization header to a token holder.
// The root key short-circuits; user keys are looked up by hash, with a
// cache in front so the hot path skips the store.
func (s *Service) validateToken(r *http.Request, mustBeRoot bool) (TokenData, bool) {
	authHeader := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if authHeader == s.authToken || authHeader == s.cfg.RootKey {
		return TokenData{Entity: EntityRoot, IsRoot: true}, true
	}
	if mustBeRoot {
		return TokenData{}, false
	}

	claims, err := s.resolveToken(r.Context(), authHeader)
	if err != nil || claims == nil {
		return TokenData{}, false
	}
	if !claims.Active {
		s.logger.Warn("token holder is inactive", "subject", claims.Subject)
		return TokenData{}, false
	}
	return TokenData{Entity: claims.Subject}, true
}

// Verify implements realtime.TokenVerifier so the session gate and the
// HTTP surface share one credential model.
func (s *Service) Verify(ctx context.Context, token string) (*realtime.Claims, error) {
	if token == s.authToken || token == s.cfg.RootKey {
		return &realtime.Claims{Subject: EntityRoot, Active: true}, nil
	}
	return s.resolveToken(ctx, token)
}

func (s *Service) resolveToken(_ context.Context, token string) (*realtime.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	hash := hashToken(token)

	userID, err := s.tkv.CacheGet(keys.WithTokenHash(hash))
	if err != nil {
		userID, err = s.tkv.Get(keys.WithTokenHash(hash))
		if err != nil {
			if tkv.IsErrKeyNotFound(err) {
				return nil, fmt.Errorf("unknown token")
			}
			return nil, err
		}
		s.tkv.CacheSet(keys.WithTokenHash(hash), userID, s.cfg.Cache.Tokens)
	}

	var user models.User
	if err := s.tkv.GetJSON(keys.WithUser(userID), &user); err != nil {
		return nil, err
	}

	return &realtime.Claims{Subject: user.ID, Active: user.Active}, nil
}

// CreateUser provisions a user record and mints their API key. The
// plaintext key is returned exactly once and only its hash is stored.
func (s *Service) CreateUser(name string) (models.User, string, error) {
	user := models.User{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	apiKey := ApiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	if err := s.tkv.SetJSON(keys.WithUser(user.ID), user); err != nil {
		return models.User{}, "", err
	}
	if err := s.tkv.Set(keys.WithTokenHash(hashToken(apiKey)), user.ID); err != nil {
		return models.User{}, "", err
	}

	return user, apiKey, nil
}
