package cadastral

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Setting keys read from the persisted settings table
const (
	SettingProxy       = "nspd_proxy"
	SettingTimeout     = "nspd_timeout"
	SettingInsecureTLS = "nspd_insecure_tls"
	SettingTransport   = "nspd_transport"
)

const (
	DefaultBaseURL = "https://nspd.gov.ru"
	DefaultTimeout = 10 * time.Second

	TransportHTTP    = "http"
	TransportBrowser = "browser"
)

// Config holds the runtime-configurable upstream settings. It is read once
// when a client is constructed.
type Config struct {
	BaseURL     string
	Proxy       string // empty means direct
	Timeout     time.Duration
	InsecureTLS bool
	Transport   string

	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Timeout:          DefaultTimeout,
		InsecureTLS:      true,
		Transport:        TransportHTTP,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
	}
}

// ConfigFromSettings overlays persisted settings on the defaults. Unparseable
// values keep the default.
func ConfigFromSettings(settings map[string]string) Config {
	cfg := DefaultConfig()

	cfg.Proxy = strings.TrimSpace(settings[SettingProxy])

	if v := strings.TrimSpace(settings[SettingTimeout]); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if v := strings.TrimSpace(settings[SettingInsecureTLS]); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InsecureTLS = b
		}
	}
	if v := strings.ToLower(strings.TrimSpace(settings[SettingTransport])); v == TransportBrowser {
		cfg.Transport = TransportBrowser
	}
	return cfg
}

// ProxyURL normalizes a proxy setting. Bare "host:port" and "user:pass@host:port"
// values get an http:// scheme.
func ProxyURL(proxy string) (string, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return "", nil
	}
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	if strings.ContainsAny(proxy, " \t") {
		return "", fmt.Errorf("invalid proxy %q", proxy)
	}
	return proxy, nil
}

// SettingDefault is a setting seeded into an empty settings table
type SettingDefault struct {
	Key         string
	Value       string
	Description string
}

// DefaultSettings lists the upstream settings with their default values
func DefaultSettings() []SettingDefault {
	return []SettingDefault{
		{Key: SettingProxy, Value: "", Description: "Proxy for NSPD requests (host:port, user:pass@host:port or URL); empty for direct"},
		{Key: SettingTimeout, Value: strconv.Itoa(int(DefaultTimeout / time.Second)), Description: "NSPD request timeout in seconds"},
		{Key: SettingInsecureTLS, Value: "true", Description: "Skip TLS certificate verification toward NSPD"},
		{Key: SettingTransport, Value: TransportHTTP, Description: "NSPD transport: http or browser (headless Chrome)"},
	}
}
