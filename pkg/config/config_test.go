package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())

	e := DefaultEngine()
	assert.True(t, e.OnlineEnabled)
	assert.Equal(t, 5*time.Second, e.APITimeout)
	assert.Equal(t, 2, e.APIMaxRetries)
	assert.Equal(t, "100k", e.APIVocabulary)
	assert.Equal(t, MergeWeighted, e.MergeStrategy)
	assert.Equal(t, 0.7, e.APIWeight)
	assert.Equal(t, 0.3, e.OfflineWeight)
	assert.Equal(t, 300*time.Second, e.CacheTTL)
	assert.Equal(t, 100, e.CacheCapacity)
	assert.Equal(t, 30*time.Second, e.NetworkCheckInterval)
	assert.Equal(t, 15*time.Second, e.RemoteBudget())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[engine]
merge_strategy = "api_first"
online_mode_enabled = false

[remote]
api_timeout = 1.5
api_vocabulary = "20k"

[cache]
cache_ttl = 0
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "api_first", c.Engine.MergeStrategy)
	assert.False(t, c.Engine.OnlineModeEnabled)
	assert.Equal(t, 0.7, c.Engine.APIWeight, "untouched keys keep defaults")

	e, err := c.EngineSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, e.APITimeout)
	assert.Equal(t, "20k", e.APIVocabulary)
	assert.Equal(t, time.Duration(0), e.CacheTTL, "zero TTL is allowed")
}

func TestLoadConfigIntegerSeconds(t *testing.T) {
	path := writeConfig(t, "[remote]\napi_timeout = 2\nnetwork_check_interval = 10\n")
	c, err := LoadConfig(path)
	require.NoError(t, err)
	e, err := c.EngineSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, e.APITimeout)
	assert.Equal(t, 10*time.Second, e.NetworkCheckInterval)
}

func TestLoadConfigPartialRecovery(t *testing.T) {
	// api_max_retries has the wrong type; everything else still applies.
	path := writeConfig(t, `
[remote]
api_max_retries = "three"
api_vocabulary = "5k"

[model]
order = 4
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Remote.APIMaxRetries)
	assert.Equal(t, "5k", c.Remote.APIVocabulary)
	assert.Equal(t, 4, c.Model.Order)
}

func TestLoadConfigSyntaxErrorUsesDefaults(t *testing.T) {
	path := writeConfig(t, "[engine\nmerge_strategy = ")
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestInvalidValuesFailLoading(t *testing.T) {
	testCases := []struct {
		name  string
		body  string
		field string
	}{
		{"zero timeout", "[remote]\napi_timeout = 0", "remote.api_timeout"},
		{"negative retries", "[remote]\napi_max_retries = -1", "remote.api_max_retries"},
		{"unknown vocabulary", "[remote]\napi_vocabulary = \"7k\"", "remote.api_vocabulary"},
		{"unknown strategy", "[engine]\nmerge_strategy = \"random\"", "engine.merge_strategy"},
		{"negative weight", "[engine]\napi_weight = -0.1", "engine.api_weight"},
		{"nan weight", "[engine]\napi_weight = nan", "engine.api_weight"},
		{"infinite weight", "[engine]\noffline_weight = inf", "engine.offline_weight"},
		{"nan timeout", "[remote]\napi_timeout = nan", "remote.api_timeout"},
		{"infinite ttl", "[cache]\ncache_ttl = inf", "cache.cache_ttl"},
		{"nan discount", "[model]\ndiscount = nan", "model.discount"},
		{"negative ttl", "[cache]\ncache_ttl = -5", "cache.cache_ttl"},
		{"zero capacity", "[cache]\nmax_entries = 0", "cache.max_entries"},
		{"zero interval", "[remote]\nnetwork_check_interval = 0", "remote.network_check_interval"},
		{"bad store", "[model]\nstore = \"csv\"", "model.store"},
		{"bad discount", "[model]\ndiscount = 1.5", "model.discount"},
		{"default above max", "[server]\nmax_limit = 3\ndefault_limit = 5", "server.default_limit"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			c, err := LoadConfig(path)
			require.Error(t, err)
			assert.Nil(t, c)

			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestZeroWeightsAllowed(t *testing.T) {
	for _, s := range []MergeStrategy{MergeWeighted, MergeAPIFirst, MergeOfflineFirst} {
		e := DefaultEngine()
		e.MergeStrategy = s
		e.APIWeight, e.OfflineWeight = 0, 0
		assert.NoError(t, e.Validate(), s)
	}
}

func TestLoadConfigWithPriority(t *testing.T) {
	path := writeConfig(t, "[cli]\ndefault_limit = 9\n")
	c, used, err := LoadConfigWithPriority(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, 9, c.CLI.DefaultLimit)

	bad := writeConfig(t, "[remote]\napi_timeout = -1\n")
	_, _, err = LoadConfigWithPriority(bad)
	var cfgErr *Error
	assert.True(t, errors.As(err, &cfgErr), "invalid custom config is fatal")
}

func TestInitConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	c, err := InitConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	require.FileExists(t, path)

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), reloaded)
}

func TestApplyEngineRoundTrip(t *testing.T) {
	c := DefaultConfig()
	e := DefaultEngine()
	e.OnlineEnabled = false
	e.APITimeout = 750 * time.Millisecond
	e.MergeStrategy = MergeOfflineFirst
	e.CacheCapacity = 12

	c.ApplyEngine(e)
	got, err := c.EngineSnapshot()
	require.NoError(t, err)
	assert.Equal(t, e, got)
}
