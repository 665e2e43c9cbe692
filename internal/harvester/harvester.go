// Package harvester runs a keyword search in an isolated browser tab, scrolls
// the results, extracts pins and caches the scored result.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pinscout/internal/cache"
	"pinscout/internal/dedupe"
	"pinscout/internal/models"
	"pinscout/internal/parser"
	"pinscout/internal/scorer"
)

const (
	DefaultSearchURL  = "https://www.pinterest.com/search/pins/?q=%s"
	DefaultLoginURL   = "https://www.pinterest.com/login/"
	DefaultPauseMin   = 1500 * time.Millisecond
	DefaultPauseMax   = 2500 * time.Millisecond
	DefaultSampleSize = 50

	emailSelector    = `input#email`
	passwordSelector = `input#password`
	submitSelector   = `button[type="submit"]`
)

// Page is the slice of a browser tab the harvester drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Submit(ctx context.Context, selector string) error
	ScrollToBottom(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Opener hands out a fresh isolated page per call.
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

type OpenerFunc func(ctx context.Context) (Page, error)

func (f OpenerFunc) Open(ctx context.Context) (Page, error) { return f(ctx) }

type Extractor interface {
	Extract(r io.Reader, contentType string) ([]models.Record, error)
}

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

type Config struct {
	// SearchURL is a format string with one %s for the escaped query.
	SearchURL   string
	LoginURL    string
	Credentials Credentials

	// Each scroll is followed by a pause drawn from [PauseMin, PauseMax).
	PauseMin time.Duration
	PauseMax time.Duration

	SampleSize int
}

func (c *Config) defaults() {
	if c.SearchURL == "" {
		c.SearchURL = DefaultSearchURL
	}
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.PauseMin <= 0 {
		c.PauseMin = DefaultPauseMin
	}
	if c.PauseMax <= 0 {
		c.PauseMax = DefaultPauseMax
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
}

type Service struct {
	opener    Opener
	cache     *cache.Cache
	extractor Extractor
	cfg       Config
	logger    *slog.Logger
	pause     func(ctx context.Context, d time.Duration) error
	flights   singleflight.Group
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithExtractor(e Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithPause replaces the scroll pause, mainly for tests.
func WithPause(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.pause = fn }
}

func New(opener Opener, c *cache.Cache, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		opener:    opener,
		cache:     c,
		extractor: parser.New(),
		cfg:       cfg,
		logger:    slog.Default(),
		pause:     sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchResults returns the cached result for params or scrapes a new one.
// Concurrent misses for the same params share one scrape.
func (s *Service) FetchResults(ctx context.Context, params models.QueryParams) (models.SearchResult, error) {
	if strings.TrimSpace(params.Query) == "" {
		return models.SearchResult{}, models.ErrEmptyQuery
	}
	if res, ok := s.cache.Get(params); ok {
		s.logger.Debug("harvester: cache hit", "query", params.Query, "scrolls", params.ScrollCount, "login", params.UseLogin)
		return res, nil
	}

	v, err, shared := s.flights.Do(flightKey(params), func() (any, error) {
		if res, ok := s.cache.Get(params); ok {
			return res, nil
		}
		return s.scrape(ctx, params)
	})
	if err != nil {
		return models.SearchResult{}, err
	}
	if shared {
		s.logger.Debug("harvester: joined in-flight scrape", "query", params.Query)
	}
	return v.(models.SearchResult), nil
}

func (s *Service) scrape(ctx context.Context, params models.QueryParams) (res models.SearchResult, err error) {
	start := time.Now()
	s.logger.Info("harvester: cache miss, scraping", "query", params.Query, "scrolls", params.ScrollCount, "login", params.UseLogin)

	page, err := s.opener.Open(ctx)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("open browsing context: %w", err)
	}
	defer func() {
		cerr := page.Close()
		if cerr == nil {
			return
		}
		if err != nil {
			err = errors.Join(err, cerr)
			return
		}
		s.logger.Warn("harvester: closing browsing context failed", "query", params.Query, "error", cerr)
	}()

	if params.UseLogin {
		if err := s.login(ctx, page); err != nil {
			return models.SearchResult{}, err
		}
	}

	if err := page.Navigate(ctx, SearchURL(s.cfg.SearchURL, params.Query)); err != nil {
		return models.SearchResult{}, fmt.Errorf("open search page: %w", err)
	}

	for i := 0; i < params.ScrollCount; i++ {
		if err := page.ScrollToBottom(ctx); err != nil {
			return models.SearchResult{}, err
		}
		d := jitter(s.cfg.PauseMin, s.cfg.PauseMax)
		s.logger.Debug("harvester: scrolled", "query", params.Query, "n", i+1, "pause", d)
		if err := s.pause(ctx, d); err != nil {
			return models.SearchResult{}, err
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return models.SearchResult{}, err
	}
	raw, err := s.extractor.Extract(strings.NewReader(html), "text/html; charset=utf-8")
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("extract pins: %w", err)
	}

	res = Assemble(params.Query, raw, s.cfg.SampleSize)
	s.cache.Set(params, res)

	s.logger.Info("harvester: scraped",
		"query", params.Query,
		"extracted", len(raw),
		"loaded", res.LoadedCount,
		"difficulty", res.DifficultyScore,
		"elapsed", time.Since(start))
	return res, nil
}

// login signs in when credentials are configured. Without them it does
// nothing, so a login request degrades to an anonymous scrape.
func (s *Service) login(ctx context.Context, page Page) error {
	creds := s.cfg.Credentials
	if !creds.Complete() {
		s.logger.Debug("harvester: login requested without credentials, skipping")
		return nil
	}
	if err := page.Navigate(ctx, s.cfg.LoginURL); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := page.Fill(ctx, emailSelector, creds.Email); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := page.Fill(ctx, passwordSelector, creds.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := page.Submit(ctx, submitSelector); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Assemble dedupes raw records and scores them. LoadedCount is the number of
// unique pins; Sample keeps the first sampleSize in page order.
func Assemble(query string, raw []models.Record, sampleSize int) models.SearchResult {
	unique := dedupe.Dedupe(raw)
	score := scorer.Score(unique, len(unique))

	sample := unique
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	return models.SearchResult{
		Query:            query,
		LoadedCount:      len(unique),
		DifficultyScore:  score,
		IsLowCompetition: scorer.IsLowCompetition(score),
		Sample:           sample,
	}
}

// SearchURL percent-encodes query into template, spaces as %20.
func SearchURL(template, query string) string {
	return fmt.Sprintf(template, strings.ReplaceAll(url.QueryEscape(query), "+", "%20"))
}

// flightKey is unambiguous because the quoted query cannot contain a bare quote.
func flightKey(p models.QueryParams) string {
	return fmt.Sprintf("%q|%d|%t", p.Query, p.ScrollCount, p.UseLogin)
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
