// Package crawl owns the chromedp browser session used to sign in to the
// admin console and drive its pages.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/types"
	"github.com/go-scripts/examcrawl/pkg/common"
)

var tracer = otel.Tracer("examcrawl/pkg/crawl")

var (
	// ErrMissingCredentials is returned by Login when email or password is empty
	ErrMissingCredentials = errors.New("login credentials are not set (FASTCAMPUS_EMAIL, FASTCAMPUS_PASSWORD)")

	// ErrLoginTimeout is returned when the sign-in page never redirects
	ErrLoginTimeout = errors.New("login did not complete before the deadline")
)

// DefaultUserAgent is sent instead of the headless browser's own
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// stealthScript hides the webdriver marker on every new document
const stealthScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });`

// Configuration holds the browser session settings
type Configuration struct {
	Email       string
	Password    string
	Site        common.Site
	Headless    bool
	ChromePath  string
	UserAgent   string
	PrimaryWait time.Duration
}

// Session is one chromedp browser session. Login replaces any previous
// browser; Close releases it and may be called from any goroutine, any
// number of times. Once closed, the session never launches a browser again,
// including one that was still starting when Close ran.
type Session struct {
	config Configuration
	logger *log.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabCtx        context.Context
	tabCancel     context.CancelFunc
}

var _ Page = (*Session)(nil)

// NewSession creates a session without launching a browser
func NewSession(config Configuration, logger *log.Logger) *Session {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.PrimaryWait <= 0 {
		config.PrimaryWait = duration.WaitPrimary
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Session{config: config, logger: logger}
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		// Hide automation markers
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		// Keep the credential manager UI out of the way
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("disable-features", "PasswordLeakDetection,PasswordManagerOnboarding,AutofillServerCommunication"),
		chromedp.UserAgent(s.config.UserAgent),
	)
	if !s.config.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ChromePath))
	}
	return opts
}

func addStealth(ctx context.Context) error {
	_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
	return err
}

// launch starts a fresh browser and its first tab
func (s *Session) launch() error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.logger.Debugf))

	// The first Run starts the browser process
	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(addStealth)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		browserCancel()
		allocCancel()
		return ErrNoSession
	}
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.tabCtx = browserCtx
	s.tabCancel = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) tab() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCtx == nil {
		return nil, ErrNoSession
	}
	return s.tabCtx, nil
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Active reports whether a browser is running
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browserCtx != nil
}

// Login launches a browser and signs in with the configured credentials.
// Missing credentials fail before any browser starts. On failure the
// browser is released before returning.
func (s *Session) Login(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "session:Login")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
	}()

	if s.config.Email == "" || s.config.Password == "" {
		return types.NewFault(types.KindConfiguration, ErrMissingCredentials)
	}

	if s.Closed() {
		return types.NewFault(types.KindInternal, ErrNoSession)
	}

	if s.Active() {
		s.logger.Info("closing previous browser session")
		s.release()
	}

	s.logger.Info("launching browser", "headless", s.config.Headless)
	if err := s.launch(); err != nil {
		return types.NewFault(types.KindInternal, err)
	}

	if err := s.signIn(ctx); err != nil {
		s.release()
		if errors.Is(err, ErrLoginTimeout) {
			return types.NewFault(types.KindAuthentication, err)
		}
		return types.NewFault(types.KindAuthentication, fmt.Errorf("login failed: %w", err))
	}

	if err := s.reopenTab(ctx); err != nil {
		s.release()
		return types.NewFault(types.KindAuthentication, fmt.Errorf("failed to reopen tab after login: %w", err))
	}

	span.SetAttributes(attribute.Bool("login.success", true))
	return nil
}

func (s *Session) signIn(ctx context.Context) error {
	site := s.config.Site
	wait := s.config.PrimaryWait

	s.logger.Info("opening sign-in page", "url", site.SignInURL)
	if err := s.Navigate(ctx, site.SignInURL, wait); err != nil {
		return err
	}

	var selected bool
	err := s.run(ctx, wait,
		chromedp.WaitReady(site.SiteSelect, chromedp.BySearch),
		chromedp.Evaluate(fmt.Sprintf(selectFirstJS, site.SiteSelect), &selected),
	)
	if err != nil {
		return fmt.Errorf("site selector: %w", err)
	}
	if !selected {
		return errors.New("site selector has no options")
	}
	if err := s.Pause(ctx, duration.TabPause); err != nil {
		return err
	}

	err = s.run(ctx, wait,
		chromedp.WaitReady(site.EmailInput, chromedp.BySearch),
		chromedp.SetValue(site.EmailInput, "", chromedp.BySearch),
		chromedp.SendKeys(site.EmailInput, s.config.Email, chromedp.BySearch),
		chromedp.WaitReady(site.PasswordInput, chromedp.BySearch),
		chromedp.SetValue(site.PasswordInput, "", chromedp.BySearch),
		chromedp.SendKeys(site.PasswordInput, s.config.Password, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("credential fields: %w", err)
	}

	if err := s.Click(ctx, site.LoginButton, wait); err != nil {
		return err
	}

	return s.waitForRedirect(ctx, site.SignInURL, wait)
}

// waitForRedirect polls the location until it leaves signInURL
func (s *Session) waitForRedirect(ctx context.Context, signInURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var location string
		if err := s.run(ctx, duration.PollInterval*4, chromedp.Location(&location)); err == nil && location != "" && location != signInURL {
			s.logger.Info("login succeeded", "url", location)
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return ErrLoginTimeout
		}
		if err := s.Pause(ctx, duration.PollInterval); err != nil {
			return err
		}
	}
}

// reopenTab moves the session into a fresh tab holding the post-login page
// and closes the original one, dropping UI state left by the redirect.
func (s *Session) reopenTab(ctx context.Context) error {
	var current string
	if err := s.run(ctx, s.config.PrimaryWait, chromedp.Location(&current)); err != nil {
		return err
	}

	s.mu.Lock()
	browserCtx := s.browserCtx
	s.mu.Unlock()
	if browserCtx == nil {
		return ErrNoSession
	}

	oldTarget := chromedp.FromContext(browserCtx).Target
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(addStealth)); err != nil {
		tabCancel()
		return fmt.Errorf("failed to open tab: %w", err)
	}
	if err := Pause(ctx, duration.TabPause); err != nil {
		tabCancel()
		return err
	}

	s.mu.Lock()
	if s.browserCtx == nil {
		s.mu.Unlock()
		tabCancel()
		return ErrNoSession
	}
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.mu.Unlock()

	if oldTarget != nil {
		err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.CloseTarget(oldTarget.TargetID).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
		}))
		if err != nil {
			s.logger.Warn("failed to close original tab", "err", err)
		}
	}

	if err := s.Navigate(ctx, current, s.config.PrimaryWait); err != nil {
		return err
	}
	return s.Pause(ctx, duration.PagePause)
}

// Close releases the browser and marks the session closed. Errors are
// logged, never returned.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.release()
}

// release shuts the current browser down, if any. A graceful shutdown that
// takes longer than duration.BrowserTeardown is followed by a kill of the
// browser process.
func (s *Session) release() {
	s.mu.Lock()
	browserCtx := s.browserCtx
	tabCancel := s.tabCancel
	browserCancel := s.browserCancel
	allocCancel := s.allocCancel
	s.browserCtx, s.tabCtx = nil, nil
	s.tabCancel, s.browserCancel, s.allocCancel = nil, nil, nil
	s.mu.Unlock()

	if browserCtx == nil {
		return
	}

	var proc *os.Process
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		proc = c.Browser.Process()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if tabCancel != nil {
			tabCancel()
		}
		if err := chromedp.Cancel(browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("browser close returned an error", "err", err)
		}
		browserCancel()
		allocCancel()
	}()

	select {
	case <-done:
		s.logger.Info("browser closed")
	case <-time.After(duration.BrowserTeardown):
		if proc != nil {
			if err := proc.Kill(); err != nil {
				s.logger.Error("failed to kill browser process", "pid", proc.Pid, "err", err)
				return
			}
		}
		s.logger.Warn("browser close timed out, process killed")
	}
}
