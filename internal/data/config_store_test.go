package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"Stencil/internal/conf"
	"Stencil/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, dir, env, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, env+".json"), []byte(content), 0o600))
}

func testBootstrap(env, dir string) *conf.Bootstrap {
	return &conf.Bootstrap{
		App:  &conf.App{Env: env},
		Data: &conf.Data{ConfigStore: &conf.Data_ConfigStore{Dir: dir}},
	}
}

func setupConfigStore(t *testing.T) (*ConfigStore, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", `{
		"features": {"weather_cache": true, "signup_enabled": false},
		"limits": {"max_api_keys_per_user": 10},
		"greeting": "hello"
	}`)

	store := NewConfigStore(testBootstrap("dev", dir), rdb, log.NewStdLogger(os.Stdout))
	return store, mr, dir
}

func TestConfigStore_LoadsFromFileWhenRedisEmpty(t *testing.T) {
	store, _, _ := setupConfigStore(t)

	assert.Equal(t, "hello", store.GetString("greeting", ""))
	assert.True(t, store.GetBool("features.weather_cache", false))
	assert.Equal(t, float64(10), store.GetFloat("limits.max_api_keys_per_user", 0))

	// Intermediate objects are addressable too.
	v, ok := store.Get("features")
	require.True(t, ok)
	assert.Equal(t, model.KindMap, v.Kind)
}

func TestConfigStore_RedisTakesPriorityOverFile(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", `{"greeting": "from-file"}`)
	mr.HSet("config:dev", "greeting", `"from-redis"`)

	store := NewConfigStore(testBootstrap("dev", dir), rdb, log.NewStdLogger(os.Stdout))

	assert.Equal(t, "from-redis", store.GetString("greeting", ""))
}

func TestConfigStore_SetWritesThroughToRedis(t *testing.T) {
	store, mr, _ := setupConfigStore(t)

	err := store.Set(context.Background(), "features.new_flag", model.BoolValue(true))
	require.NoError(t, err)

	assert.True(t, store.FeatureEnabled("new_flag"))
	assert.Equal(t, "true", mr.HGet("config:dev", "features.new_flag"))

	// Existing values survive the merge.
	assert.Equal(t, "hello", store.GetString("greeting", ""))
}

func TestConfigStore_SetFailsWithoutRedis(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", `{"greeting": "hello"}`)

	store := NewConfigStore(testBootstrap("dev", dir), nil, log.NewStdLogger(os.Stdout))

	err := store.Set(context.Background(), "greeting", model.StringValue("changed"))
	assert.Error(t, err)
	// Snapshot untouched; the file stays read-only.
	assert.Equal(t, "hello", store.GetString("greeting", ""))
}

func TestConfigStore_Delete(t *testing.T) {
	store, mr, _ := setupConfigStore(t)

	require.NoError(t, store.Set(context.Background(), "temp.key", model.NumberValue(1)))
	require.NoError(t, store.Delete(context.Background(), "temp.key"))

	_, ok := store.Get("temp.key")
	assert.False(t, ok)
	assert.False(t, mr.Exists("config:dev") && mr.HGet("config:dev", "temp.key") != "")
}

func TestConfigStore_RefreshPicksUpRedisChanges(t *testing.T) {
	store, mr, _ := setupConfigStore(t)

	// Another instance writes directly to the hash.
	mr.HSet("config:dev", "greeting", `"updated"`)

	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, "updated", store.GetString("greeting", ""))
}

func TestConfigStore_RefreshFallsBackToFileOnRedisFailure(t *testing.T) {
	store, mr, _ := setupConfigStore(t)

	require.NoError(t, store.Set(context.Background(), "greeting", model.StringValue("from-redis")))
	assert.Equal(t, "from-redis", store.GetString("greeting", ""))

	mr.Close()

	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, "hello", store.GetString("greeting", ""))
}

func TestConfigStore_SkipsMalformedRedisValues(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", `{}`)
	mr.HSet("config:dev", "good", `"ok"`)
	mr.HSet("config:dev", "bad", `{not json`)

	store := NewConfigStore(testBootstrap("dev", dir), rdb, log.NewStdLogger(os.Stdout))

	assert.Equal(t, "ok", store.GetString("good", ""))
	_, ok := store.Get("bad")
	assert.False(t, ok)
}

func TestConfigStore_SeedRedisFromFile(t *testing.T) {
	store, mr, _ := setupConfigStore(t)

	require.NoError(t, store.SeedRedisFromFile(context.Background()))

	assert.Equal(t, `"hello"`, mr.HGet("config:dev", "greeting"))
	assert.Equal(t, "true", mr.HGet("config:dev", "features.weather_cache"))
}

func TestConfigStore_FeatureEnabledDefaultsOff(t *testing.T) {
	store, _, _ := setupConfigStore(t)

	assert.False(t, store.FeatureEnabled("signup_enabled"))
	assert.False(t, store.FeatureEnabled("unknown_flag"))
}

func TestConfigStore_KeysSorted(t *testing.T) {
	store, _, _ := setupConfigStore(t)

	keys := store.Keys()
	require.NotEmpty(t, keys)
	assert.IsIncreasing(t, keys)
	assert.Contains(t, keys, "features.weather_cache")
	assert.Contains(t, keys, "greeting")
}
