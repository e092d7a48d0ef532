// Package shortlink resolves URLs against an external shortening API.
package shortlink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kapu/mc-relay-go/internal/config"
)

// Placeholder emitted in redact mode instead of the URL.
const Redacted = "省略"

type addRequest struct {
	URL    string `json:"url"`
	Expiry string `json:"expiry"`
}

type addResponse struct {
	Error int    `json:"error"`
	Short string `json:"short"`
	Msg   string `json:"msg"`
}

type Resolver struct {
	mode    config.ShortlinkMode
	baseURL string
	token   string

	http           *fasthttp.Client
	defaultTimeout time.Duration

	now func() time.Time
}

type Option func(*Resolver)

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.defaultTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func New(mode config.ShortlinkMode, baseURL, token string, opts ...Option) *Resolver {
	r := &Resolver{
		mode:           mode,
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the replacement token for url. In disabled mode that is
// the URL itself and in redact mode a fixed placeholder; neither touches
// the network. In enabled mode the shortening API is called and any
// failure is returned as an error, never the raw URL.
func (r *Resolver) Resolve(ctx context.Context, url string) (string, error) {
	switch r.mode {
	case config.ShortlinkRedact:
		return Redacted, nil
	case config.ShortlinkEnabled:
		return r.shorten(ctx, url)
	default:
		return url, nil
	}
}

func (r *Resolver) shorten(ctx context.Context, url string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(r.baseURL + "/api/url/add")
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Token "+r.token)

	expiry := r.now().AddDate(0, 0, 1).Format("2006-01-02")
	payload, err := json.Marshal(addRequest{URL: url, Expiry: expiry})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := r.http.DoDeadline(req, resp, r.computeDeadline(ctx)); err != nil {
		return "", fmt.Errorf("shortlink request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("shortlink api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}

	var out addResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode shortlink response: %w", err)
	}
	if out.Error != 0 {
		return "", fmt.Errorf("shortlink api rejected url: error=%d msg=%s", out.Error, out.Msg)
	}
	return out.Short, nil
}

func (r *Resolver) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(r.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
