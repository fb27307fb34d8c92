package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"Stencil/internal/conf"
	"Stencil/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// ConfigStore serves runtime configuration from Redis with a JSON env-file
// fallback. Values live in one Redis hash per environment (config:{env},
// field = dotted path, value = raw JSON). Reads are lock-free against an
// atomic snapshot; the snapshot is refreshed from Redis on an interval and
// rebuilt from the env file when Redis is unavailable.
type ConfigStore struct {
	rdb    *redis.Client
	env    string
	dir    string
	logger *log.Helper

	snapshot atomic.Value // map[string]model.ConfigValue
	mu       sync.Mutex   // serializes reloads and writes
}

// NewConfigStore creates the store and loads the initial snapshot: Redis
// first, env file when Redis is empty or down. A store that cannot load from
// either source starts empty rather than failing startup.
func NewConfigStore(bc *conf.Bootstrap, rdb *redis.Client, logger log.Logger) *ConfigStore {
	env := "dev"
	if bc.App != nil && bc.App.Env != "" {
		env = bc.App.Env
	}
	dir := "configs/redis"
	if bc.Data != nil && bc.Data.ConfigStore != nil && bc.Data.ConfigStore.Dir != "" {
		dir = bc.Data.ConfigStore.Dir
	}

	s := &ConfigStore{
		rdb:    rdb,
		env:    env,
		dir:    dir,
		logger: log.NewHelper(logger),
	}
	s.snapshot.Store(map[string]model.ConfigValue{})

	if err := s.Refresh(context.Background()); err != nil {
		s.logger.Warnw("msg", "initial configuration load failed, starting empty",
			"env", env, "error", err)
	}

	return s
}

// hashKey returns the Redis hash holding this environment's configuration.
func (s *ConfigStore) hashKey() string {
	return "config:" + s.env
}

// filePath returns this environment's fallback file.
func (s *ConfigStore) filePath() string {
	return filepath.Join(s.dir, s.env+".json")
}

// Env returns the environment the store serves.
func (s *ConfigStore) Env() string {
	return s.env
}

// current returns the active snapshot.
func (s *ConfigStore) current() map[string]model.ConfigValue {
	return s.snapshot.Load().(map[string]model.ConfigValue)
}

// Get returns the value at a dotted path.
func (s *ConfigStore) Get(key string) (model.ConfigValue, bool) {
	v, ok := s.current()[key]
	return v, ok
}

// GetString returns a string value, or def when absent or not coercible.
func (s *ConfigStore) GetString(key, def string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.AsString(); ok {
			return str
		}
	}
	return def
}

// GetBool returns a bool value, or def when absent or not coercible.
func (s *ConfigStore) GetBool(key string, def bool) bool {
	if v, ok := s.Get(key); ok {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	return def
}

// GetFloat returns a numeric value, or def when absent or not coercible.
func (s *ConfigStore) GetFloat(key string, def float64) float64 {
	if v, ok := s.Get(key); ok {
		if f, ok := v.AsFloat(); ok {
			return f
		}
	}
	return def
}

// FeatureEnabled reports whether the feature flag features.{name} is on.
// Unknown flags are off.
func (s *ConfigStore) FeatureEnabled(name string) bool {
	return s.GetBool("features."+name, false)
}

// Keys returns all configured dotted paths, sorted.
func (s *ConfigStore) Keys() []string {
	snap := s.current()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns the whole snapshot as plain values, for the admin surface.
func (s *ConfigStore) All() map[string]any {
	snap := s.current()
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = v.Interface()
	}
	return out
}

// Set writes one value to Redis and applies it to the snapshot. Fails when
// Redis is unavailable: the env files are deployment artifacts, not a write
// target.
func (s *ConfigStore) Set(ctx context.Context, key string, value model.ConfigValue) error {
	if s.rdb == nil {
		return fmt.Errorf("config store: redis unavailable, cannot set %s", key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("config store: failed to encode %s: %w", key, err)
	}

	if err := s.rdb.HSet(ctx, s.hashKey(), key, string(raw)).Err(); err != nil {
		return fmt.Errorf("config store: failed to write %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(map[string]model.ConfigValue{key: value}, false)

	s.logger.Infow("msg", "configuration value updated", "key", key, "env", s.env, "type", "config")
	return nil
}

// Delete removes one value from Redis and the snapshot.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	if s.rdb == nil {
		return fmt.Errorf("config store: redis unavailable, cannot delete %s", key)
	}

	if err := s.rdb.HDel(ctx, s.hashKey(), key).Err(); err != nil {
		return fmt.Errorf("config store: failed to delete %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current()
	next := make(map[string]model.ConfigValue, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	s.snapshot.Store(next)
	return nil
}

// Refresh rebuilds the snapshot from Redis, falling back to the env file
// when Redis is unavailable or holds nothing for this environment. Called at
// startup and from the periodic refresh job.
func (s *ConfigStore) Refresh(ctx context.Context) error {
	values, err := s.loadFromRedis(ctx)
	if err != nil || len(values) == 0 {
		if err != nil {
			s.logger.Warnw("msg", "redis configuration load failed, using file fallback",
				"env", s.env, "error", err)
		}
		return s.ReloadFromFile()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(values, true)

	s.logger.Debugw("msg", "configuration refreshed from redis",
		"env", s.env, "keys", len(values), "type", "config")
	return nil
}

// ReloadFromFile replaces the snapshot with the contents of the env file.
func (s *ConfigStore) ReloadFromFile() error {
	path := s.filePath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config store: failed to read %s: %w", path, err)
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("config store: invalid JSON in %s: %w", path, err)
	}

	values := make(map[string]model.ConfigValue)
	flattenConfig("", tree, values)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(values, true)

	s.logger.Infow("msg", "configuration loaded from file",
		"path", path, "keys", len(values), "type", "config")
	return nil
}

// SeedRedisFromFile pushes the env file's values into Redis. Used to
// bootstrap a fresh environment.
func (s *ConfigStore) SeedRedisFromFile(ctx context.Context) error {
	if s.rdb == nil {
		return fmt.Errorf("config store: redis unavailable")
	}
	if err := s.ReloadFromFile(); err != nil {
		return err
	}

	snap := s.current()
	fields := make(map[string]interface{}, len(snap))
	for k, v := range snap {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("config store: failed to encode %s: %w", k, err)
		}
		fields[k] = string(raw)
	}
	if len(fields) == 0 {
		return nil
	}

	if err := s.rdb.HSet(ctx, s.hashKey(), fields).Err(); err != nil {
		return fmt.Errorf("config store: failed to seed redis: %w", err)
	}
	s.logger.Infow("msg", "configuration seeded into redis",
		"env", s.env, "keys", len(fields), "type", "config")
	return nil
}

// loadFromRedis reads the environment hash and parses each field.
func (s *ConfigStore) loadFromRedis(ctx context.Context) (map[string]model.ConfigValue, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("config store: redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	fields, err := s.rdb.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("config store: failed to read %s: %w", s.hashKey(), err)
	}

	values := make(map[string]model.ConfigValue, len(fields))
	for k, raw := range fields {
		v, err := model.ParseConfigValue([]byte(raw))
		if err != nil {
			s.logger.Warnw("msg", "skipping malformed configuration value",
				"key", k, "env", s.env, "error", err)
			continue
		}
		values[k] = v
	}
	return values, nil
}

// applyLocked installs values into the snapshot. replace swaps the whole
// snapshot; otherwise values are merged over the existing one. Callers hold
// s.mu.
func (s *ConfigStore) applyLocked(values map[string]model.ConfigValue, replace bool) {
	if replace {
		next := make(map[string]model.ConfigValue, len(values))
		for k, v := range values {
			next[k] = v
		}
		s.snapshot.Store(next)
		return
	}

	old := s.current()
	next := make(map[string]model.ConfigValue, len(old)+len(values))
	for k, v := range old {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	s.snapshot.Store(next)
}

// flattenConfig walks a decoded JSON tree and registers every node under its
// dotted path. Objects are registered both as map values and expanded into
// their children, so Get("features") and Get("features.dark_mode") both
// work.
func flattenConfig(prefix string, node map[string]any, out map[string]model.ConfigValue) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		cv, err := model.FromAny(v)
		if err != nil {
			continue
		}
		out[path] = cv

		if child, ok := v.(map[string]any); ok {
			flattenConfig(path, child, out)
		}
	}
}
