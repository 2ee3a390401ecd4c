package tkv

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	AppCtx         context.Context
	CacheTTL       time.Duration
}

type data struct {
	store *badger.DB
	cache *ttlcache.Cache[string, string]
}

type DataHandler interface {
	Get(key string) (string, error)
	Iterate(prefix string, offset int, limit int) ([]string, error)
	Set(key string, value string) error
	Delete(key string) error
}

// DocumentHandler stores JSON documents under prefixed keys. The platform
// records (agents, proofs, settlements, swarms, reward ledgers) all live
// behind this.
type DocumentHandler interface {
	GetJSON(key string, out any) error
	SetJSON(key string, in any) error
}

type CacheHandler interface {
	CacheGet(key string) (string, error)
	CacheSet(key string, value string, ttl time.Duration) error
	CacheDelete(key string) error
}

type TKV interface {
	DataHandler
	DocumentHandler
	CacheHandler

	Close() error
}
