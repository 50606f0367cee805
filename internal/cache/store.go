// Package cache implements the two-tier result store: a redis layer for
// fast reads and a filesystem layer as the durable source of truth. The
// filesystem write is mandatory; redis is best-effort on both sides.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/logger"
)

// Well-known key prefixes.
const (
	PrefixHolders = "holders"
	PrefixState   = "state"
)

// StoreConfig configures the two cache tiers.
type StoreConfig struct {
	Dir              string
	RedisTTL         time.Duration
	DisabledPrefixes []string // prefixes that bypass redis entirely
}

// Store is the two-tier cache. A nil KV client disables the redis tier.
type Store struct {
	kv       adapter.KVClient
	fs       adapter.FileSystem
	cfg      StoreConfig
	disabled map[string]bool
}

// NewStore creates a store over the given tiers. kv may be nil.
func NewStore(kv adapter.KVClient, fs adapter.FileSystem, cfg StoreConfig) *Store {
	if cfg.RedisTTL == 0 {
		cfg.RedisTTL = 24 * time.Hour
	}
	disabled := make(map[string]bool, len(cfg.DisabledPrefixes))
	for _, p := range cfg.DisabledPrefixes {
		disabled[p] = true
	}
	return &Store{kv: kv, fs: fs, cfg: cfg, disabled: disabled}
}

func (s *Store) redisEnabled(prefix string) bool {
	return s.kv != nil && !s.disabled[prefix]
}

func (s *Store) cacheKey(prefix, key string) string {
	return prefix + "_" + key
}

func (s *Store) filePath(prefix, key string) string {
	return filepath.Join(s.cfg.Dir, s.cacheKey(prefix, key)+".json")
}

// Get reads prefix_key into v. The redis tier is consulted first unless
// disabled for the prefix; a redis failure falls through to the
// filesystem. Returns false when neither tier has the key.
func (s *Store) Get(ctx context.Context, prefix, key string, v interface{}) (bool, error) {
	ck := s.cacheKey(prefix, key)

	if s.redisEnabled(prefix) {
		data, found, err := s.kv.Get(ctx, ck)
		switch {
		case err != nil:
			logger.WarnCtx(ctx, "redis read failed, falling back to filesystem",
				zap.String("key", ck), zap.Error(err))
		case found:
			if err := json.Unmarshal(data, v); err != nil {
				logger.WarnCtx(ctx, "corrupt redis entry, falling back to filesystem",
					zap.String("key", ck), zap.Error(err))
			} else {
				return true, nil
			}
		}
	}

	data, err := s.fs.ReadFile(s.filePath(prefix, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache file for %s: %w", ck, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt cache file for %s: %w", ck, err)
	}
	return true, nil
}

// GetRaw reads the raw bytes for prefix_key from the filesystem tier only.
func (s *Store) GetRaw(prefix, key string) ([]byte, bool, error) {
	data, err := s.fs.ReadFile(s.filePath(prefix, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set writes v under prefix_key to both tiers. The filesystem write must
// succeed; the redis write is logged on failure and otherwise ignored.
// Files are indent-formatted so operators can read them directly.
func (s *Store) Set(ctx context.Context, prefix, key string, v interface{}) error {
	ck := s.cacheKey(prefix, key)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry %s: %w", ck, err)
	}

	if err := s.fs.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", s.cfg.Dir, err)
	}
	if err := s.fs.WriteFile(s.filePath(prefix, key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file for %s: %w", ck, err)
	}

	if s.redisEnabled(prefix) {
		if err := s.kv.Set(ctx, ck, data, s.cfg.RedisTTL); err != nil {
			logger.WarnCtx(ctx, "redis write failed, filesystem copy is authoritative",
				zap.String("key", ck), zap.Error(err))
		}
	}
	return nil
}
