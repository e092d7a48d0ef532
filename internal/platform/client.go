// Package platform adapts the chat platform's bot API: the broadcast sink
// used by the delivery controller and the event stream feeding the engine.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kapu/mc-relay-go/internal/delivery"
)

// Bot API retcodes that drive failure classification.
const (
	retcodeOK          = 0
	retcodeRateLimited = 36
	retcodeNotReady    = 33
)

type sendRequest struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

type sendResponse struct {
	Retcode int    `json:"retcode"`
	Msg     string `json:"msg"`
}

// Client posts broadcast messages to the bot API and implements
// delivery.Sink with typed failure kinds.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultTimeout = d }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Broadcast sends text to every "platform:id" target, stopping at the
// first failure so the delivery controller sees it promptly.
func (c *Client) Broadcast(ctx context.Context, targets []string, text string) error {
	if c.baseURL == "" {
		return &delivery.SinkError{Kind: delivery.SinkUnavailable, Err: fmt.Errorf("bot api url not configured")}
	}
	for _, target := range targets {
		platform, id, ok := strings.Cut(target, ":")
		if !ok {
			return &delivery.SinkError{Kind: delivery.SinkOther, Err: fmt.Errorf("malformed channel target %q", target)}
		}
		if err := c.send(ctx, platform, id, text); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, platform, channelID, text string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/send_msg")
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(sendRequest{Platform: platform, ChannelID: channelID, Message: text})
	if err != nil {
		return &delivery.SinkError{Kind: delivery.SinkOther, Err: fmt.Errorf("marshal send request: %w", err)}
	}
	req.SetBody(payload)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		// The bot process is unreachable; same operator action as an
		// uninitialized sink.
		return &delivery.SinkError{Kind: delivery.SinkUnavailable, Err: fmt.Errorf("bot api unreachable: %w", err)}
	}

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusTooManyRequests:
		return &delivery.SinkError{Kind: delivery.SinkRateLimited, Err: fmt.Errorf("bot api status %d", status)}
	case status == fasthttp.StatusServiceUnavailable:
		return &delivery.SinkError{Kind: delivery.SinkUnavailable, Err: fmt.Errorf("bot api status %d", status)}
	case status < 200 || status >= 300:
		return &delivery.SinkError{Kind: delivery.SinkOther, Err: fmt.Errorf("bot api status %d body=%s", status, truncate(string(resp.Body()), 256))}
	}

	var out sendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return &delivery.SinkError{Kind: delivery.SinkOther, Err: fmt.Errorf("decode send response: %w", err)}
	}
	switch out.Retcode {
	case retcodeOK:
		return nil
	case retcodeRateLimited:
		return &delivery.SinkError{Kind: delivery.SinkRateLimited, Err: fmt.Errorf("retcode %d: %s", out.Retcode, out.Msg)}
	case retcodeNotReady:
		return &delivery.SinkError{Kind: delivery.SinkUnavailable, Err: fmt.Errorf("retcode %d: %s", out.Retcode, out.Msg)}
	default:
		return &delivery.SinkError{Kind: delivery.SinkOther, Err: fmt.Errorf("retcode %d: %s", out.Retcode, out.Msg)}
	}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
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
