package cadastral

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxBodyBytes caps how much of an upstream response is read
const maxBodyBytes = 8 << 20

// The geoportal rejects requests that do not look like they come from its own map page
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

func browserHeaders(baseURL string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Referer", baseURL+"/map?thematic=PKK&zoom=16&active_layers=36049")
	h.Set("Origin", baseURL)
	h.Set("Sec-Ch-Ua", `"Not(A:Brand";v="8", "Chromium";v="144", "Google Chrome";v="144"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("DNT", "1")
	return h
}

// Response is a raw upstream answer
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs GET requests against the upstream
type Transport interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
	Close() error
}

// HTTPTransport talks to the upstream with net/http
type HTTPTransport struct {
	client  *http.Client
	headers http.Header
}

// NewHTTPTransport builds a transport honoring the proxy, timeout and TLS settings
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	client, err := newHTTPClient(cfg.Proxy, cfg.Timeout, cfg.InsecureTLS)
	if err != nil {
		return nil, err
	}
	return &HTTPTransport{
		client:  client,
		headers: browserHeaders(cfg.BaseURL),
	}, nil
}

func newHTTPClient(proxy string, timeout time.Duration, insecure bool) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}

	proxyURL, err := ProxyURL(proxy)
	if err != nil {
		return nil, err
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// Get issues the request and reads the body
func (t *HTTPTransport) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching object: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Close drops pooled connections
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// DefaultProxyCheckURL echoes the caller's public IP
const DefaultProxyCheckURL = "https://api.ipify.org?format=json"

// ProxyCheck is the outcome of a proxy connectivity test
type ProxyCheck struct {
	Success    bool    `json:"success"`
	StatusCode *int    `json:"status_code"`
	IP         *string `json:"ip"`
	Error      *string `json:"error"`
	ElapsedMs  float64 `json:"elapsed_ms"`
}

// CheckProxy requests testURL through proxy and reports the observed public IP
func CheckProxy(ctx context.Context, proxy, testURL string, timeout time.Duration) ProxyCheck {
	if testURL == "" {
		testURL = DefaultProxyCheckURL
	}
	start := time.Now()
	fail := func(err error) ProxyCheck {
		msg := err.Error()
		return ProxyCheck{Error: &msg, ElapsedMs: msSince(start)}
	}

	client, err := newHTTPClient(proxy, timeout, true)
	if err != nil {
		return fail(err)
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	check := ProxyCheck{
		Success:    resp.StatusCode == http.StatusOK,
		StatusCode: &resp.StatusCode,
	}

	// IP echo services disagree on the field name
	var echo struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&echo); err == nil {
		ip := echo.IP
		if ip == "" {
			ip = echo.Origin
		}
		if ip != "" {
			check.IP = &ip
		}
	}
	check.ElapsedMs = msSince(start)
	return check
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
