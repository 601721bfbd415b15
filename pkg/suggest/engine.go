package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/internal/observe"
	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/cache"
	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/bastiangx/nextword/pkg/remote"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("suggest: engine closed")

// Engine answers prediction requests. Local ranking always runs; the remote
// service is added when online mode is on, the monitor says it is usable and
// the call succeeds in time. Remote trouble never reaches the caller.
type Engine struct {
	model   LocalModel
	fetcher RemoteFetcher
	monitor Availability
	cache   ResponseCache
	metrics *observe.Metrics
	log     *log.Logger

	cfg     atomic.Pointer[config.Engine]
	flights singleflight.Group

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	predictions atomic.Int64
	remoteCalls atomic.Int64
	fallbacks   atomic.Int64
	failures    atomic.Int64
	abandoned   atomic.Int64
	corruptions atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRemote attaches the remote side. Without it the engine is local only
// whatever the online setting says.
func WithRemote(f RemoteFetcher, a Availability, c ResponseCache) Option {
	return func(e *Engine) {
		e.fetcher = f
		e.monitor = a
		e.cache = c
	}
}

// WithMetrics records predictions into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an engine around model with the given settings.
func New(model LocalModel, cfg config.Engine, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, errors.New("suggest: nil model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		model:   model,
		metrics: observe.Noop(),
		log:     logger.New("engine"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.Store(&cfg)
	return e, nil
}

// Config returns the settings snapshot in effect.
func (e *Engine) Config() config.Engine {
	return *e.cfg.Load()
}

// Predict returns up to maxResults next-word candidates for c. It returns
// within the configured remote budget even when the service hangs, and
// returns early when ctx is done.
func (e *Engine) Predict(ctx context.Context, c predict.Context, maxResults int) predict.RankedList {
	start := time.Now()
	cfg := e.cfg.Load()
	e.predictions.Add(1)

	local := e.rankLocal(c, maxResults)
	path, result := e.resolve(ctx, cfg, c, local, maxResults)

	e.metrics.RecordPrediction(ctx, path, time.Since(start))
	e.log.Debugf("Predict %q via %s: %d candidates in %v", c.String(), path, len(result), time.Since(start))
	return result
}

// PredictText parses raw typed text and predicts for it.
func (e *Engine) PredictText(ctx context.Context, text string, maxResults int) predict.RankedList {
	return e.Predict(ctx, predict.ParseContext(text), maxResults)
}

func (e *Engine) resolve(ctx context.Context, cfg *config.Engine, c predict.Context, local predict.RankedList, maxResults int) (string, predict.RankedList) {
	if !cfg.OnlineEnabled || e.fetcher == nil {
		return observe.PathOffline, local
	}
	if e.monitor == nil || !e.monitor.IsRemoteUsable() {
		e.fallbacks.Add(1)
		return observe.PathFallback, local
	}

	if e.cache != nil {
		cached, hit := e.cache.Get(c, cfg.APIVocabulary)
		e.metrics.RecordCacheLookup(ctx, hit)
		if hit {
			return observe.PathCached, Merge(local, cached, *cfg, maxResults)
		}
	}

	fresh, err := e.fetch(ctx, cfg, c)
	if errors.Is(err, ErrClosed) {
		return observe.PathFallback, local
	}
	if err != nil {
		if ctx.Err() == nil {
			e.failures.Add(1)
			kind := remote.KindOf(err)
			e.monitor.ReportFailure(kind)
			e.metrics.RecordRemote(ctx, string(kind))
			e.log.Debugf("Remote failed (%s), using local results: %v", kind, err)
		}
		return observe.PathFailed, local
	}
	e.metrics.RecordRemote(ctx, "ok")
	if e.cache != nil {
		e.cache.Put(c, cfg.APIVocabulary, fresh)
	}
	return observe.PathRemote, Merge(local, fresh, *cfg, maxResults)
}

// rankLocal turns a panic inside the model into an empty list.
func (e *Engine) rankLocal(c predict.Context, maxResults int) (list predict.RankedList) {
	defer func() {
		if r := recover(); r != nil {
			e.corruptions.Add(1)
			e.log.Errorf("Local ranking failed: %v: %v", ngram.ErrModelCorruption, r)
			list = predict.RankedList{}
		}
	}()
	list = e.model.RankLocal(c, maxResults)
	if list == nil {
		list = predict.RankedList{}
	}
	return list
}

type fetchResult struct {
	list predict.RankedList
	err  error
}

// fetch runs the remote call as a background task bounded by the remote
// budget. Identical concurrent requests share one call. When the caller stops
// waiting the task runs out its budget and its result is dropped.
// It always asks for the most the service returns so a cached list serves
// any later limit; Merge truncates.
func (e *Engine) fetch(ctx context.Context, cfg *config.Engine, c predict.Context) (predict.RankedList, error) {
	budget := cfg.RemoteBudget()
	req := remote.Request{
		Context:    c,
		Vocabulary: cfg.APIVocabulary,
		MaxResults: remote.MaxRequestResults,
		Timeout:    cfg.APITimeout,
		MaxRetries: cfg.APIMaxRetries,
		SafeMode:   cfg.APISafeMode,
		Language:   cfg.APILanguage,
	}
	key := cache.Key(c, cfg.APIVocabulary)

	done := make(chan fetchResult, 1)
	if !e.track() {
		return nil, ErrClosed
	}
	e.remoteCalls.Add(1)
	go func() {
		defer e.wg.Done()
		v, err, _ := e.flights.Do(key, func() (any, error) {
			fctx, cancel := context.WithTimeout(e.ctx, budget)
			defer cancel()
			return e.fetcher.Fetch(fctx, req)
		})
		list, _ := v.(predict.RankedList)
		done <- fetchResult{list: list.Clone(), err: err}
	}()

	wait, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	select {
	case r := <-done:
		return r.list, r.err
	case <-wait.Done():
		e.abandoned.Add(1)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &remote.Failure{Kind: remote.KindTimeout, Err: fmt.Errorf("no answer within %v", budget)}
	}
}

// Observe feeds a confirmed word sequence to the model.
func (e *Engine) Observe(words []string) {
	if len(words) == 0 {
		return
	}
	e.model.Observe(words)
	e.metrics.RecordObserved(e.ctx, len(words))
}

// ObserveText tokenizes free text and observes it.
func (e *Engine) ObserveText(text string) {
	e.Observe(utils.Tokenize(text))
}

// ReloadConfig validates cfg and makes it the snapshot for later calls.
// Predictions already running finish with the settings they started with.
func (e *Engine) ReloadConfig(cfg config.Engine) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := e.cfg.Swap(&cfg)
	if e.monitor != nil {
		e.monitor.UpdateConfig(cfg.OnlineEnabled, cfg.NetworkCheckInterval)
	}
	if e.cache != nil {
		if prev.CacheTTL != cfg.CacheTTL {
			e.cache.SetTTL(cfg.CacheTTL)
		}
		if prev.CacheCapacity != cfg.CacheCapacity {
			e.cache.Resize(cfg.CacheCapacity)
		}
		// Cached lists were fetched under the old query parameters.
		if prev.APILanguage != cfg.APILanguage || prev.APISafeMode != cfg.APISafeMode {
			e.cache.Purge()
		}
	}
	if prev.DebugLogging != cfg.DebugLogging {
		logger.SetDebug(cfg.DebugLogging, e.log)
	}
	e.log.Debugf("Config reloaded: online=%v strategy=%s", cfg.OnlineEnabled, cfg.MergeStrategy)
	return nil
}

// Stats reports engine counters merged with model and cache stats when those
// components expose them.
func (e *Engine) Stats() map[string]int {
	stats := map[string]int{
		"predictions":  int(e.predictions.Load()),
		"remoteCalls":  int(e.remoteCalls.Load()),
		"fallbacks":    int(e.fallbacks.Load()),
		"remoteErrors": int(e.failures.Load()),
		"abandoned":    int(e.abandoned.Load()),
		"corruptions":  int(e.corruptions.Load()),
	}
	type statser interface{ Stats() map[string]int }
	for _, part := range []any{e.model, e.cache} {
		if s, ok := part.(statser); ok {
			for k, v := range s.Stats() {
				stats[k] = v
			}
		}
	}
	return stats
}

// track registers a background task unless the engine is closed.
func (e *Engine) track() bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// Close abandons running remote calls and waits for their tasks to exit.
// Later predictions are local only.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	e.cancel()
	e.wg.Wait()
}
