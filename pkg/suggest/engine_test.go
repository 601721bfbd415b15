package suggest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bastiangx/nextword/pkg/cache"
	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/bastiangx/nextword/pkg/remote"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	calls atomic.Int32
	mu    sync.Mutex
	list  predict.RankedList
	err   error
	hang  bool
	last  remote.Request
}

func (f *fakeFetcher) Fetch(ctx context.Context, req remote.Request) (predict.RankedList, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	list, err, hang := f.list, f.err, f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, &remote.Failure{Kind: remote.KindTimeout, Err: ctx.Err()}
	}
	return list.Clone(), err
}

type fakeMonitor struct {
	mu       sync.Mutex
	usable   bool
	failures []remote.Kind
	enabled  bool
	interval time.Duration
}

func (m *fakeMonitor) IsRemoteUsable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usable
}

func (m *fakeMonitor) ReportFailure(kind remote.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *fakeMonitor) UpdateConfig(enabled bool, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled, m.interval = enabled, interval
}

func (m *fakeMonitor) reported() []remote.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remote.Kind(nil), m.failures...)
}

type panicModel struct{}

func (panicModel) RankLocal(predict.Context, int) predict.RankedList { panic("broken table") }
func (panicModel) Observe([]string)                                  {}

func trainedModel() *ngram.Model {
	m := ngram.New(ngram.Options{Order: 3})
	for _, line := range []string{
		"i want to eat pizza",
		"i want to go home",
		"we want pizza",
		"they want to eat",
	} {
		m.Observe(predict.ParseContext(line + " ").Words)
	}
	return m
}

type fixture struct {
	model   *ngram.Model
	fetcher *fakeFetcher
	monitor *fakeMonitor
	cache   *cache.ResponseCache
	engine  *Engine
}

func newFixture(t *testing.T, mutate func(*config.Engine)) *fixture {
	t.Helper()
	cfg := config.DefaultEngine()
	cfg.APITimeout = 100 * time.Millisecond
	cfg.APIMaxRetries = 0
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		model: trainedModel(),
		fetcher: &fakeFetcher{list: predict.RankedList{
			{Token: "pizza", Score: 0.4, Source: predict.SourceRemote},
			{Token: "cake", Score: 0.2, Source: predict.SourceRemote},
		}},
		monitor: &fakeMonitor{usable: true, enabled: true},
		cache:   cache.New(cfg.CacheCapacity, cfg.CacheTTL),
	}
	e, err := New(f.model, cfg, WithRemote(f.fetcher, f.monitor, f.cache))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

var eatCtx = predict.Context{Words: []string{"to", "eat"}}

func TestOfflineEqualsLocalRanking(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.OnlineEnabled = false })

	for _, c := range []predict.Context{
		eatCtx,
		{Words: []string{"want"}},
		{Words: []string{"want"}, Partial: "t"},
		{},
	} {
		got := f.engine.Predict(context.Background(), c, 5)
		assert.Equal(t, f.model.RankLocal(c, 5), got, c.String())
	}
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
	assert.Equal(t, 0, f.cache.Len())
}

func TestUnusableRemoteFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.monitor.usable = false

	got := f.engine.Predict(context.Background(), eatCtx, 5)
	assert.Equal(t, f.model.RankLocal(eatCtx, 5), got)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
	assert.Equal(t, 1, f.engine.Stats()["fallbacks"])
}

func TestRemoteResultIsMergedAndCached(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.MergeStrategy = config.MergeAPIFirst })

	first := f.engine.Predict(context.Background(), eatCtx, 5)
	require.Len(t, first, 5)
	assert.Equal(t, []string{"pizza", "cake"}, first[:2].Tokens())
	assert.Equal(t, predict.SourceRemote, first[0].Source)
	assert.Equal(t, predict.SourceLocal, first[2].Source)

	second := f.engine.Predict(context.Background(), predict.Context{Words: []string{"To", " eat "}}, 5)
	assert.Equal(t, first.Tokens(), second.Tokens())
	assert.Equal(t, int32(1), f.fetcher.calls.Load(), "second call is served from the cache")

	req := f.fetcher.last
	assert.Equal(t, "100k", req.Vocabulary)
	assert.Equal(t, remote.MaxRequestResults, req.MaxResults)
	assert.Equal(t, 100*time.Millisecond, req.Timeout)
}

func TestCachedListServesLargerLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.MergeStrategy = config.MergeAPIFirst })

	first := f.engine.Predict(context.Background(), eatCtx, 1)
	assert.Equal(t, []string{"pizza"}, first.Tokens())

	second := f.engine.Predict(context.Background(), eatCtx, 5)
	require.Len(t, second, 5)
	assert.Equal(t, []string{"pizza", "cake"}, second[:2].Tokens())
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
}

func TestRemoteFailureFallsBackAndReports(t *testing.T) {
	testCases := []struct {
		name string
		kind remote.Kind
	}{
		{"unreachable", remote.KindUnreachable},
		{"rejected", remote.KindRejected},
		{"malformed", remote.KindMalformed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fetcher.err = &remote.Failure{Kind: tc.kind}

			got := f.engine.Predict(context.Background(), eatCtx, 5)
			assert.Equal(t, f.model.RankLocal(eatCtx, 5), got)
			assert.Equal(t, []remote.Kind{tc.kind}, f.monitor.reported())
			assert.Equal(t, 0, f.cache.Len())
		})
	}
}

func TestHangingRemoteIsBounded(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) {
		c.APITimeout = 50 * time.Millisecond
		c.APIMaxRetries = 1
	})
	f.fetcher.hang = true

	start := time.Now()
	got := f.engine.Predict(context.Background(), eatCtx, 5)
	elapsed := time.Since(start)

	assert.Equal(t, f.model.RankLocal(eatCtx, 5), got)
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, []remote.Kind{remote.KindTimeout}, f.monitor.reported())
	assert.Equal(t, 0, f.cache.Len(), "an abandoned call never fills the cache")
}

func TestCallerCancelDoesNotBlameRemote(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.APITimeout = time.Second })
	f.fetcher.hang = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got := f.engine.Predict(ctx, eatCtx, 5)

	assert.Equal(t, f.model.RankLocal(eatCtx, 5), got)
	assert.Empty(t, f.monitor.reported())
	assert.Equal(t, 1, f.engine.Stats()["abandoned"])
}

func TestObserveShowsUpImmediately(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.OnlineEnabled = false })
	c := predict.Context{Words: []string{"green"}, Partial: "te"}

	assert.Empty(t, f.engine.Predict(context.Background(), c, 3))
	f.engine.ObserveText("green tea")
	assert.Equal(t, []string{"tea"}, f.engine.Predict(context.Background(), c, 3).Tokens())
}

func TestPunctuationDoesNotBreakContext(t *testing.T) {
	f := newFixture(t, func(c *config.Engine) { c.OnlineEnabled = false })
	f.engine.ObserveText("Hello, world. Hello, world.")

	got := f.engine.PredictText(context.Background(), "Hello, ", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "world", got[0].Token)
	if len(got) > 1 {
		assert.Greater(t, got[0].Score, got[1].Score, "bigram beats unigram backoff")
	}
}

func TestReloadConfig(t *testing.T) {
	f := newFixture(t, nil)

	next := f.engine.Config()
	next.OnlineEnabled = false
	next.NetworkCheckInterval = 5 * time.Second
	require.NoError(t, f.engine.ReloadConfig(next))

	assert.False(t, f.engine.Config().OnlineEnabled)
	assert.False(t, f.monitor.enabled)
	assert.Equal(t, 5*time.Second, f.monitor.interval)

	f.engine.Predict(context.Background(), eatCtx, 5)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())

	bad := next
	bad.APIVocabulary = "3k"
	require.Error(t, f.engine.ReloadConfig(bad))
	assert.Equal(t, "100k", f.engine.Config().APIVocabulary, "rejected config leaves the old one")
}

func TestReloadDropsStaleCache(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Predict(context.Background(), eatCtx, 5)
	require.Equal(t, 1, f.cache.Len())

	next := f.engine.Config()
	next.MergeStrategy = config.MergeOfflineFirst
	require.NoError(t, f.engine.ReloadConfig(next))
	assert.Equal(t, 1, f.cache.Len(), "merge settings do not affect cached lists")

	next.APILanguage = "de"
	require.NoError(t, f.engine.ReloadConfig(next))
	assert.Equal(t, 0, f.cache.Len())
}

func TestReloadResizesCache(t *testing.T) {
	f := newFixture(t, nil)
	for _, w := range []string{"alpha", "beta", "gamma"} {
		f.engine.Predict(context.Background(), predict.Context{Words: []string{w}}, 3)
	}
	require.Equal(t, 3, f.cache.Len())

	next := f.engine.Config()
	next.CacheCapacity = 1
	require.NoError(t, f.engine.ReloadConfig(next))
	assert.Equal(t, 1, f.cache.Len())
	assert.Equal(t, 1, f.cache.Stats()["cacheCapacity"])
}

func TestRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.APITimeout = 0
	_, err := New(trainedModel(), cfg)
	require.Error(t, err)

	_, err = New(nil, config.DefaultEngine())
	require.Error(t, err)
}

func TestModelPanicYieldsEmptyList(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.OnlineEnabled = false
	e, err := New(panicModel{}, cfg)
	require.NoError(t, err)
	defer e.Close()

	got := e.Predict(context.Background(), eatCtx, 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1, e.Stats()["corruptions"])
}

func TestPredictAsync(t *testing.T) {
	f := newFixture(t, nil)

	p := f.engine.PredictAsync(context.Background(), eatCtx, 5)
	got, err := p.Wait(context.Background())
	require.NoError(t, err)

	res, ok := p.Result()
	assert.True(t, ok)
	assert.Equal(t, got, res)
	assert.Contains(t, got.Tokens(), "pizza")
}

func TestClosedEngineStaysLocal(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Close()

	got := f.engine.Predict(context.Background(), eatCtx, 5)
	assert.Equal(t, f.model.RankLocal(eatCtx, 5), got)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
	assert.Empty(t, f.monitor.reported())
}

func TestConcurrentPredictAndObserve(t *testing.T) {
	f := newFixture(t, nil)
	const workers, rounds = 8, 100

	before := f.model.Count([]string{"stress"}, "test")
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				f.engine.Observe([]string{"stress", "test"})
				c := predict.Context{Words: []string{"stress"}, Partial: fmt.Sprintf("%c", 'a'+rune(i%26))}
				f.engine.Predict(context.Background(), c, 3)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, before+workers*rounds, f.model.Count([]string{"stress"}, "test"))
	assert.Equal(t, workers*rounds, f.engine.Stats()["predictions"])
}
