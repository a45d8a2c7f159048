package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// WebhookConfig configures HTTPWebhook.
type WebhookConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// AllowPrivate permits loopback, private and link-local targets.
	AllowPrivate bool
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultWebhookTimeout  = 30 * time.Second
)

// HTTPWebhook performs webhook calls over HTTP. JSON object responses are
// returned as is; any other body is wrapped as {"body": ...}.
type HTTPWebhook struct {
	config   WebhookConfig
	client   *http.Client
	resolver *net.Resolver
}

// NewHTTPWebhook creates an HTTPWebhook.
func NewHTTPWebhook(cfg WebhookConfig) *HTTPWebhook {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultWebhookTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPWebhook{
		config:   cfg,
		client:   &http.Client{Transport: transport},
		resolver: net.DefaultResolver,
	}
}

func (w *HTTPWebhook) Fetch(ctx context.Context, req FetchRequest) (map[string]any, error) {
	u, err := w.checkURL(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil && method != http.MethodGet {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "webhook: body is not JSON encodable").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = w.config.DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook: failed to create request").WithCause(err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "webhook: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, w.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook: failed to read response body").WithCause(err)
	}
	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "webhook: server returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}

	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]any{"body": string(raw)}, nil
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"body": parsed}, nil
}

// checkURL accepts http and https URLs whose host does not resolve to a
// loopback, private, link-local or unspecified address.
func (w *HTTPWebhook) checkURL(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "webhook: invalid url %q", rawURL)
	}
	if w.config.AllowPrivate {
		return u, nil
	}

	host := u.Hostname()
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, unsafeHost(host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if !PublicIP(ip) {
			return nil, unsafeHost(host)
		}
		return u, nil
	}

	addrs, err := w.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "webhook: resolve %q: %v", host, err).WithCause(err)
	}
	for _, a := range addrs {
		if !PublicIP(a.IP) {
			return nil, unsafeHost(host)
		}
	}
	return u, nil
}

// PublicIP reports whether ip is a routable public address.
func PublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast())
}

func unsafeHost(host string) *schema.AutomationError {
	return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("webhook: host %q is not allowed", host)).
		WithDetails(map[string]any{"host": host})
}

var _ Webhook = (*HTTPWebhook)(nil)
