package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrTimeout is returned when an element does not become ready in time
var ErrTimeout = errors.New("timed out waiting for element")

// ErrNoSession is returned when the page is used without a live browser
var ErrNoSession = errors.New("browser session is not running")

// Page is the browser surface the extraction loop drives. Every wait is
// bounded by the timeout passed in.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Text(ctx context.Context, xpath string, timeout time.Duration) (string, error)
	OuterHTML(ctx context.Context, xpath string, timeout time.Duration) (string, error)
	Click(ctx context.Context, xpath string, timeout time.Duration) error
	Pause(ctx context.Context, d time.Duration) error
}

// Pause sleeps for d unless ctx ends first
func Pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// clickJS clicks the first node matching an XPath from inside the page,
// which is not intercepted by overlays the way a synthesized mouse click is.
const clickJS = `(() => {
	const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.click();
	return true;
})()`

// selectFirstJS picks the first option of a select element and fires change.
const selectFirstJS = `(() => {
	const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el || !el.options || el.options.length === 0) return false;
	el.selectedIndex = 0;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`

// run executes actions on the current tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tab, err := s.tab()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrTimeout
	}
	return err
}

// Navigate loads url in the current tab
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Text waits for xpath to become visible and returns its text
func (s *Session) Text(ctx context.Context, xpath string, timeout time.Duration) (string, error) {
	var text string
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Text(xpath, &text, chromedp.BySearch, chromedp.NodeVisible),
	)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", xpath, err)
	}
	return text, nil
}

// OuterHTML waits for xpath to become visible and returns its markup
func (s *Session) OuterHTML(ctx context.Context, xpath string, timeout time.Duration) (string, error) {
	var html string
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.OuterHTML(xpath, &html, chromedp.BySearch, chromedp.NodeVisible),
	)
	if err != nil {
		return "", fmt.Errorf("read html %s: %w", xpath, err)
	}
	return html, nil
}

// Click waits for xpath to become visible and enabled, then clicks it
func (s *Session) Click(ctx context.Context, xpath string, timeout time.Duration) error {
	var clicked bool
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.WaitEnabled(xpath, chromedp.BySearch),
		chromedp.Evaluate(fmt.Sprintf(clickJS, xpath), &clicked),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", xpath, err)
	}
	if !clicked {
		return fmt.Errorf("click %s: element disappeared", xpath)
	}
	return nil
}

// Pause sleeps between interactions
func (s *Session) Pause(ctx context.Context, d time.Duration) error {
	return Pause(ctx, d)
}
