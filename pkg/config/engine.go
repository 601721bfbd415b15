package config

import (
	"errors"
	"math"
	"slices"
	"time"
)

// MergeStrategy selects how local and remote rankings are combined.
type MergeStrategy string

const (
	MergeWeighted     MergeStrategy = "weighted"
	MergeAPIFirst     MergeStrategy = "api_first"
	MergeOfflineFirst MergeStrategy = "offline_first"
)

// Vocabularies lists the vocabulary sizes the prediction service offers.
var Vocabularies = []string{"1k", "5k", "10k", "20k", "40k", "100k", "500k"}

// Engine is the immutable settings snapshot the prediction engine works
// from. Replace it as a whole; never mutate one that has been handed out.
type Engine struct {
	OnlineEnabled        bool
	APITimeout           time.Duration
	APIMaxRetries        int
	APIVocabulary        string
	APISafeMode          bool
	APILanguage          string
	MergeStrategy        MergeStrategy
	APIWeight            float64
	OfflineWeight        float64
	CacheTTL             time.Duration
	CacheCapacity        int
	NetworkCheckInterval time.Duration
	DebugLogging         bool
}

// DefaultEngine returns the engine settings of DefaultConfig.
func DefaultEngine() Engine {
	e, err := DefaultConfig().EngineSnapshot()
	if err != nil {
		panic("config: defaults do not validate: " + err.Error())
	}
	return e
}

// RemoteBudget is the longest a remote call may take, retries included.
func (e Engine) RemoteBudget() time.Duration {
	return e.APITimeout * time.Duration(1+max(e.APIMaxRetries, 0))
}

// Validate checks the snapshot. Field names match the config file keys.
func (e Engine) Validate() error {
	var errs []error
	add := func(field string, value any, reason string) {
		errs = append(errs, &Error{Field: field, Value: value, Reason: reason})
	}

	if e.APITimeout <= 0 {
		add("remote.api_timeout", e.APITimeout, "must be positive")
	}
	if e.APIMaxRetries < 0 {
		add("remote.api_max_retries", e.APIMaxRetries, "must not be negative")
	}
	if !slices.Contains(Vocabularies, e.APIVocabulary) {
		add("remote.api_vocabulary", e.APIVocabulary, "must be one of 1k, 5k, 10k, 20k, 40k, 100k, 500k")
	}
	switch e.MergeStrategy {
	case MergeWeighted, MergeAPIFirst, MergeOfflineFirst:
	default:
		add("engine.merge_strategy", e.MergeStrategy, "must be weighted, api_first or offline_first")
	}
	if !finite(e.APIWeight) || e.APIWeight < 0 {
		add("engine.api_weight", e.APIWeight, "must be a finite number, not negative")
	}
	if !finite(e.OfflineWeight) || e.OfflineWeight < 0 {
		add("engine.offline_weight", e.OfflineWeight, "must be a finite number, not negative")
	}
	if e.CacheTTL < 0 {
		add("cache.cache_ttl", e.CacheTTL, "must not be negative")
	}
	if e.CacheCapacity < 1 {
		add("cache.max_entries", e.CacheCapacity, "must be at least 1")
	}
	if e.NetworkCheckInterval <= 0 {
		add("remote.network_check_interval", e.NetworkCheckInterval, "must be positive")
	}
	return errors.Join(errs...)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
