package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/dom"
)

// Compile-time check to ensure ChromeDriver implements the interface
var _ Driver = (*ChromeDriver)(nil)

// ChromeDriver is a Driver backed by one chromedp browser tab.
type ChromeDriver struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	actionTimeout   time.Duration
	logger          *zap.Logger
}

// AllocatorOptions returns the exec allocator flags for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1440, 900),
		chromedp.IgnoreCertErrors,
	)

	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// NewChromeLauncher returns a Launcher that starts a fresh Chrome per call.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) Launcher {
	return func(ctx context.Context) (Driver, error) {
		return NewChromeDriver(ctx, cfg, logger)
	}
}

// NewChromeDriver launches Chrome and opens a tab. The browser outlives ctx;
// ctx only bounds the launch.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	d := &ChromeDriver{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		actionTimeout:   cfg.ActionTimeout,
		logger:          logger,
	}

	// The first Run allocates the browser and must not use a
	// cancellable child context, or the browser dies with it.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		d.Close()
		return nil, fmt.Errorf("failed to start browser: %w", ctx.Err())
	}

	if t := chromedp.FromContext(browserCtx); t != nil && t.Target != nil {
		logger.Info("Browser started", zap.String("target_id", t.Target.TargetID.String()))
	}
	return d, nil
}

// run executes actions in the tab, bounded by the action timeout and by ctx.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if d.actionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(d.browserCtx, d.actionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(d.browserCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, dom.NavigateAction(url))
}

func (d *ChromeDriver) ElementPresent(ctx context.Context, selector string) (bool, error) {
	var present bool
	err := d.run(ctx, dom.IsElementPresentAction(selector, &present))
	return present, err
}

func (d *ChromeDriver) SetInputValue(ctx context.Context, selector, value string) error {
	return d.run(ctx, dom.SetValueAction(selector, value))
}

func (d *ChromeDriver) SendKeys(ctx context.Context, selector, keys string) error {
	return d.run(ctx, dom.TypeAction(selector, keys))
}

func (d *ChromeDriver) SetUploadFiles(ctx context.Context, selector string, files []string) error {
	return d.run(ctx, dom.UploadAction(selector, files))
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, dom.ClickAction(selector))
}

func (d *ChromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.run(ctx, dom.TextAction(selector, &text))
	return text, err
}

func (d *ChromeDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := d.run(ctx, dom.AttributeAction(selector, name, &value, &ok))
	return value, ok, err
}

func (d *ChromeDriver) Location(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

func (d *ChromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, dom.GetFullHTMLAction(&html))
	return html, err
}

func (d *ChromeDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, cookieParam(c))
	}
	return d.run(ctx, network.SetCookies(params))
}

func cookieParam(c Cookie) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if p.Path == "" {
		p.Path = "/"
	}
	if !c.Expires.IsZero() {
		exp := cdp.TimeSinceEpoch(c.Expires)
		p.Expires = &exp
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		p.SameSite = network.CookieSameSiteStrict
	case "lax":
		p.SameSite = network.CookieSameSiteLax
	case "none", "no_restriction":
		p.SameSite = network.CookieSameSiteNone
	}
	return p
}

// Close shuts the tab and the browser process. It is safe to call twice.
func (d *ChromeDriver) Close() error {
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocatorCancel != nil {
		d.allocatorCancel()
	}
	d.logger.Debug("Browser closed")
	return nil
}
