package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinscout/internal/cache"
	"pinscout/internal/models"
)

const mugsHTML = `<html><body>
<div data-test-id="pin"><a href="/pin/A/"><img src="a.jpg" alt="Mug A"></a><b aria-label="saves">100</b></div>
<div data-test-id="pin"><a href="/pin/B/"><img src="b.jpg" alt="Mug B"></a><b aria-label="saves">50</b></div>
<div data-test-id="pin"><a href="https://www.pinterest.com/pin/A/"><img src="a.jpg" alt="Mug A"></a><b aria-label="saves">100</b></div>
</body></html>`

type fakePage struct {
	mu       sync.Mutex
	calls    []string
	html     string
	failOn   string
	closeErr error
	closed   bool
}

func (p *fakePage) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if p.failOn != "" && p.failOn == call {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	return p.record("navigate " + url)
}

func (p *fakePage) Fill(_ context.Context, sel, _ string) error {
	return p.record("fill " + sel)
}

func (p *fakePage) Submit(_ context.Context, sel string) error {
	return p.record("submit " + sel)
}

func (p *fakePage) ScrollToBottom(context.Context) error {
	return p.record("scroll")
}


func (p *fakePage) HTML(context.Context) (string, error) {
	if err := p.record("html"); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

type fakeOpener struct {
	opens atomic.Int32
	page  func() *fakePage
	err   error
	last  *fakePage
}

func (o *fakeOpener) Open(context.Context) (Page, error) {
	o.opens.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	p := o.page()
	o.last = p
	return p, nil
}

func newService(t *testing.T, o Opener, cfg Config) (*Service, *cache.Cache, *int) {
	t.Helper()
	c := cache.New(10, time.Minute)
	pauses := 0
	svc := New(o, c, cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPause(func(_ context.Context, d time.Duration) error {
			pauses++
			if d < DefaultPauseMin || d >= DefaultPauseMax {
				t.Errorf("pause %v outside [%v, %v)", d, DefaultPauseMin, DefaultPauseMax)
			}
			return nil
		}),
	)
	return svc, c, &pauses
}

func params(t *testing.T, q string, scrolls int, login bool) models.QueryParams {
	t.Helper()
	p, err := models.NewQueryParams(q, scrolls, login)
	require.NoError(t, err)
	return p
}

func TestFetchResultsCeramicMugs(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML} }}
	svc, c, pauses := newService(t, o, Config{})

	res, err := svc.FetchResults(context.Background(), params(t, "ceramic mugs", 2, false))
	require.NoError(t, err)

	assert.Equal(t, "ceramic mugs", res.Query)
	assert.Equal(t, 2, res.LoadedCount)
	assert.Equal(t, 6, res.DifficultyScore)
	assert.True(t, res.IsLowCompetition)
	require.Len(t, res.Sample, 2)
	assert.Equal(t, "A", res.Sample[0].PinID)
	assert.Equal(t, 100, res.Sample[0].Saves)
	assert.Equal(t, "B", res.Sample[1].PinID)

	assert.Equal(t, []string{
		"navigate https://www.pinterest.com/search/pins/?q=ceramic%20mugs",
		"scroll", "scroll", "html",
	}, o.last.calls)
	assert.Equal(t, 2, *pauses)
	assert.True(t, o.last.closed)
	assert.Equal(t, 1, c.Len())
}

func TestFetchResultsCacheHitSkipsBrowser(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML} }}
	svc, _, _ := newService(t, o, Config{})
	p := params(t, "ceramic mugs", 2, false)

	first, err := svc.FetchResults(context.Background(), p)
	require.NoError(t, err)
	second, err := svc.FetchResults(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), o.opens.Load())

	// a different scroll count is a different key
	_, err = svc.FetchResults(context.Background(), params(t, "ceramic mugs", 3, false))
	require.NoError(t, err)
	assert.Equal(t, int32(2), o.opens.Load())
}

func TestFetchResultsCollapsesConcurrentMisses(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML} }}
	release := make(chan struct{})
	svc := New(o, cache.New(10, time.Minute), Config{},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPause(func(ctx context.Context, _ time.Duration) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	)
	p := params(t, "ceramic mugs", 1, false)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]models.SearchResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.FetchResults(context.Background(), p)
		}(i)
	}

	require.Eventually(t, func() bool { return o.opens.Load() == 1 }, time.Second, time.Millisecond)
	// let the other callers queue behind the scrape held at its pause
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), o.opens.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestFetchResultsLogin(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML} }}
	svc, _, _ := newService(t, o, Config{Credentials: Credentials{Email: "me@example.com", Password: "secret"}})

	_, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, true))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"navigate " + DefaultLoginURL,
		"fill " + emailSelector,
		"fill " + passwordSelector,
		"submit " + submitSelector,
		"navigate https://www.pinterest.com/search/pins/?q=mugs",
		"scroll", "html",
	}, o.last.calls)
}

func TestFetchResultsLoginSkippedWithoutCredentials(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML} }}
	svc, _, _ := newService(t, o, Config{Credentials: Credentials{Email: "me@example.com"}})

	_, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, true))
	require.NoError(t, err)
	assert.Equal(t, "navigate https://www.pinterest.com/search/pins/?q=mugs", o.last.calls[0])
}

func TestFetchResultsLoginFailureAborts(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage {
		return &fakePage{html: mugsHTML, failOn: "submit " + submitSelector}
	}}
	svc, c, _ := newService(t, o, Config{Credentials: Credentials{Email: "a", Password: "b"}})

	_, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit")
	assert.True(t, o.last.closed)
	assert.Zero(t, c.Len())
}

func TestFetchResultsFailureClosesContext(t *testing.T) {
	for _, step := range []string{"scroll", "html", "navigate https://www.pinterest.com/search/pins/?q=mugs"} {
		t.Run(step, func(t *testing.T) {
			o := &fakeOpener{page: func() *fakePage { return &fakePage{html: mugsHTML, failOn: step} }}
			svc, c, _ := newService(t, o, Config{})

			_, err := svc.FetchResults(context.Background(), params(t, "mugs", 3, false))
			require.Error(t, err)
			assert.Contains(t, err.Error(), step+" failed")
			assert.True(t, o.last.closed)
			assert.Zero(t, c.Len())
		})
	}
}

func TestFetchResultsJoinsCloseError(t *testing.T) {
	closeErr := errors.New("context already gone")
	o := &fakeOpener{page: func() *fakePage {
		return &fakePage{html: mugsHTML, failOn: "html", closeErr: closeErr}
	}}
	svc, _, _ := newService(t, o, Config{})

	_, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, false))
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), "html failed")
}

func TestFetchResultsCloseErrorAfterSuccessIsLogged(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage {
		return &fakePage{html: mugsHTML, closeErr: errors.New("close failed")}
	}}
	svc, c, _ := newService(t, o, Config{})

	res, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, false))
	require.NoError(t, err)
	assert.Equal(t, 2, res.LoadedCount)
	assert.Equal(t, 1, c.Len())
}

func TestFetchResultsOpenError(t *testing.T) {
	boom := errors.New("chrome not found")
	svc, _, _ := newService(t, &fakeOpener{err: boom}, Config{})

	_, err := svc.FetchResults(context.Background(), params(t, "mugs", 1, false))
	assert.ErrorIs(t, err, boom)
}

func TestFetchResultsEmptyQuery(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{} }}
	svc, _, _ := newService(t, o, Config{})

	_, err := svc.FetchResults(context.Background(), models.QueryParams{Query: "  ", ScrollCount: 1})
	assert.ErrorIs(t, err, models.ErrEmptyQuery)
	assert.Zero(t, o.opens.Load())
}

func TestFetchResultsEmptyPage(t *testing.T) {
	o := &fakeOpener{page: func() *fakePage { return &fakePage{html: "<html><body></body></html>"} }}
	svc, _, _ := newService(t, o, Config{})

	res, err := svc.FetchResults(context.Background(), params(t, "nothing here", 1, false))
	require.NoError(t, err)
	assert.Zero(t, res.LoadedCount)
	assert.Zero(t, res.DifficultyScore)
	assert.True(t, res.IsLowCompetition)
	assert.NotNil(t, res.Sample)
	assert.Empty(t, res.Sample)
}

func TestPauseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}

func TestAssembleCapsSample(t *testing.T) {
	raw := make([]models.Record, 0, 80)
	for i := 0; i < 80; i++ {
		raw = append(raw, models.Record{PinID: fmt.Sprint(i)})
	}
	res := Assemble("q", raw, DefaultSampleSize)
	assert.Equal(t, 80, res.LoadedCount)
	assert.Len(t, res.Sample, DefaultSampleSize)
	assert.Equal(t, "0", res.Sample[0].PinID)
}

func TestSearchURLEscapesQuery(t *testing.T) {
	assert.Equal(t,
		"https://www.pinterest.com/search/pins/?q=mugs%20%26%20cups%3F",
		SearchURL(DefaultSearchURL, "mugs & cups?"))
}

func TestFlightKeyIsCollisionFree(t *testing.T) {
	a := flightKey(models.QueryParams{Query: `a"|1|false`, ScrollCount: 1})
	b := flightKey(models.QueryParams{Query: "a", ScrollCount: 1})
	assert.NotEqual(t, a, b)
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(DefaultPauseMin, DefaultPauseMax)
		assert.GreaterOrEqual(t, d, DefaultPauseMin)
		assert.Less(t, d, DefaultPauseMax)
	}
	assert.Equal(t, time.Second, jitter(time.Second, time.Second))
}
