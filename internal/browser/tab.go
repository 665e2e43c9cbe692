package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// requestIdle is how long the network must stay quiet to count as settled.
const requestIdle = 500 * time.Millisecond

// Tab is one page inside its own incognito context. It is owned by a single
// harvest and never shared.
type Tab struct {
	page      *rod.Page
	incognito *rod.Browser
	router    stopper
	timeout   time.Duration
}

// stopper is the part of *rod.HijackRouter a Tab needs at close time.
type stopper interface {
	Stop() error
}

func (t *Tab) bound(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	return t.page.Context(ctx), cancel
}

// Navigate loads url and returns once the DOM is parsed, without waiting for
// the network to go idle.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	p, cancel := t.bound(ctx)
	defer cancel()

	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	wait()
	if err := p.GetContext().Err(); err != nil {
		return fmt.Errorf("browser: wait dom %s: %w", url, err)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	p, cancel := t.bound(ctx)
	defer cancel()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: fill %s: %w", selector, err)
	}
	return nil
}

// Submit clicks selector and waits for network activity to settle.
func (t *Tab) Submit(ctx context.Context, selector string) error {
	p, cancel := t.bound(ctx)
	defer cancel()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	wait := p.WaitRequestIdle(requestIdle, nil, nil, nil)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	wait()
	if err := p.GetContext().Err(); err != nil {
		return fmt.Errorf("browser: wait network idle: %w", err)
	}
	return nil
}

func (t *Tab) ScrollToBottom(ctx context.Context) error {
	p, cancel := t.bound(ctx)
	defer cancel()

	if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// HTML serialises the rendered document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	p, cancel := t.bound(ctx)
	defer cancel()

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

// Close stops request interception, closes the page and disposes of its
// incognito context. Every step is attempted.
func (t *Tab) Close() error {
	var errs []error
	if t.router != nil {
		if err := t.router.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("browser: stop request router: %w", err))
		}
	}
	if t.page != nil {
		if err := t.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close page: %w", err))
		}
	}
	if t.incognito != nil {
		if err := t.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close context: %w", err))
		}
	}
	return errors.Join(errs...)
}
