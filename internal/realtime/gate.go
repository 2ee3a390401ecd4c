package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Claims is what the external verifier resolves a credential to.
type Claims struct {
	Subject string
	Active  bool
}

// TokenVerifier is the external identity contract the gate delegates to.
// A nil claims result (or any error) means the credential is unusable:
// malformed, bad signature, expired, or unknown.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Gate authenticates an inbound realtime connection attempt before it is
// allowed anywhere near the registry. Verified subjects are cached by
// token so reconnect storms don't hammer the verifier.
type Gate struct {
	verifier TokenVerifier
	cache    *ttlcache.Cache[string, string]
	logger   *slog.Logger
}

func NewGate(verifier TokenVerifier, cacheTTL time.Duration, logger *slog.Logger) *Gate {
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &Gate{
		verifier: verifier,
		cache:    cache,
		logger:   logger.WithGroup("gate"),
	}
}

// Authenticate resolves a bearer credential to a stable identity string.
// Returns ok=false for malformed, invalid, expired tokens and for
// inactive accounts; the caller must close the connection with the
// documented code before any registration happens.
func (g *Gate) Authenticate(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	if item := g.cache.Get(token); item != nil {
		return item.Value(), true
	}

	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.logger.Warn("token verification failed", "error", err)
		return "", false
	}
	if claims == nil || claims.Subject == "" {
		g.logger.Warn("token resolved to no subject")
		return "", false
	}
	if !claims.Active {
		g.logger.Warn("token subject is inactive", "subject", claims.Subject)
		return "", false
	}

	// Only active subjects are cached; a deactivated account falls out
	// when its cache entry expires.
	g.cache.Set(token, claims.Subject, ttlcache.DefaultTTL)

	return claims.Subject, true
}

// Stop shuts the cache janitor down.
func (g *Gate) Stop() {
	g.cache.Stop()
}
