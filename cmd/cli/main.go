package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"pinscout/internal/browser"
	"pinscout/internal/cache"
	"pinscout/internal/config"
	"pinscout/internal/harvester"
	"pinscout/internal/ioformats"
	"pinscout/internal/models"
	"pinscout/pkg/logger"
)

func main() {
	in := flag.String("input", "", "input file (csv with 'keyword' column or ndjson)")
	out := flag.String("output", "", "output NDJSON file (default stdout)")
	configPath := flag.String("config", "config.toml", "TOML config file (optional)")
	scrolls := flag.Int("scrolls", models.DefaultScrolls, "scrolls per keyword (1-10)")
	login := flag.Bool("login", false, "sign in before searching when credentials are configured")
	concurrency := flag.Int("concurrency", 2, "keywords harvested in parallel")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "missing --input")
		os.Exit(2)
	}

	if err := run(*in, *out, *configPath, *scrolls, *login, *concurrency); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type outRec struct {
	Keyword string               `json:"keyword"`
	Result  *models.SearchResult `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// run owns the browser manager so it is closed on every return path.
func run(in, out, configPath string, scrolls int, login bool, concurrency int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// logs go to stderr so stdout stays valid NDJSON
	l := logger.NewWithWriter(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)

	keywords, err := ioformats.ReadKeywords(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.RemoteURL,
		Bin:              cfg.Browser.Bin,
		Headful:          cfg.Browser.Headful,
		NoSandbox:        cfg.Browser.NoSandbox,
		OperationTimeout: cfg.Browser.GetOperationTimeout(),
		BlockResources:   cfg.Browser.BlockResources,
		Logger:           l,
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			l.Warn("browser close failed", "error", err)
		}
	}()

	svc := harvester.New(mgr, cache.New(cfg.Cache.Capacity, cfg.Cache.GetTTL()), harvester.Config{
		Credentials: harvester.Credentials{Email: cfg.Login.Email, Password: cfg.Login.Password},
		PauseMin:    cfg.Scrape.GetPauseMin(),
		PauseMax:    cfg.Scrape.GetPauseMax(),
	}, harvester.WithLogger(l))

	results := harvestAll(svc, keywords, scrolls, login, concurrency)

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := ioformats.WriteNDJSON(w, results); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func harvestAll(svc *harvester.Service, keywords []string, scrolls int, login bool, concurrency int) []outRec {
	results := make([]outRec, len(keywords))

	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(keywords))

	for i, kw := range keywords {
		sem <- struct{}{} // acquire
		go func() {
			defer func() { <-sem; done <- i }()
			params, err := models.NewQueryParams(kw, scrolls, login)
			if err != nil {
				results[i] = outRec{Keyword: kw, Error: err.Error()}
				return
			}
			res, err := svc.FetchResults(context.Background(), params)
			if err != nil {
				results[i] = outRec{Keyword: kw, Error: err.Error()}
				return
			}
			results[i] = outRec{Keyword: kw, Result: &res}
		}()
	}
	for range keywords {
		<-done
	}
	return results
}
