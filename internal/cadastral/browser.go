package cadastral

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// BrowserTransport issues upstream requests from a headless Chrome tab. It is
// used when the geoportal rejects the Go TLS fingerprint outright.
type BrowserTransport struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	baseURL       string

	mu     sync.Mutex // one tab, one request at a time
	warmed bool
}

// NewBrowserTransport starts Chrome with the configured proxy and TLS settings
func NewBrowserTransport(cfg Config) (*BrowserTransport, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Anti-detection flags
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	if cfg.InsecureTLS {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	proxyURL, err := ProxyURL(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy: %w", err)
		}
		if u.User != nil {
			return nil, fmt.Errorf("browser transport does not support proxy credentials")
		}
		opts = append(opts, chromedp.ProxyServer(u.String()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and must not carry a deadline
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &BrowserTransport{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		baseURL:       cfg.BaseURL,
	}, nil
}

// Get runs a same-origin fetch inside the page, reusing the cookies the map
// page set when it was first opened.
func (t *BrowserTransport) Get(ctx context.Context, rawURL string) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	runCtx, cancel := context.WithCancel(t.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	if !t.warmed {
		err := chromedp.Run(runCtx,
			network.SetExtraHTTPHeaders(network.Headers{
				"Accept-Language": "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
			}),
			chromedp.Navigate(t.baseURL+"/map?thematic=PKK&zoom=16&active_layers=36049"),
			chromedp.WaitReady("body"),
		)
		if err != nil {
			return nil, fmt.Errorf("opening map page: %w", err)
		}
		t.warmed = true
	}

	target, err := json.Marshal(rawURL)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(
		`fetch(%s, {credentials: "include", headers: {"Accept": "*/*"}}).then(async r => ({status: r.status, body: await r.text()}))`,
		target,
	)

	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	err = chromedp.Run(runCtx, chromedp.Evaluate(script, &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("browser fetch: %w", ctxErr)
		}
		return nil, fmt.Errorf("browser fetch: %w", err)
	}
	return &Response{StatusCode: out.Status, Body: []byte(out.Body)}, nil
}

// Close shuts the browser down
func (t *BrowserTransport) Close() error {
	t.browserCancel()
	t.allocCancel()
	return nil
}
