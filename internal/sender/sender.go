// Package sender delivers composed notifications to the platform's
// messaging service.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrRejected = errors.New("sender: message rejected")

type Message struct {
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	FundID    string            `json:"fund_id,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

const defaultTimeout = 15 * time.Second

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HTTP posts messages as JSON to a single endpoint. It does not retry; the
// broker owns retries.
type HTTP struct {
	client *resty.Client
	url    string
}

func NewHTTP(url, token string) *HTTP {
	c := resty.New().
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "nudge-sender")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTP{client: c, url: url}
}

func (h *HTTP) Send(ctx context.Context, m Message) error {
	var out response
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(m).
		SetResult(&out).
		SetError(&out).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("send %s: %w", m.Template, err)
	}
	if resp.IsError() {
		return fmt.Errorf("send %s: status %d: %s", m.Template, resp.StatusCode(), out.Error)
	}
	if !out.Success {
		return fmt.Errorf("send %s: %w: %s", m.Template, ErrRejected, out.Error)
	}
	return nil
}

// Log only writes the message to the log. Used when no sender URL is set.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("sender")}
}

func (l *Log) Send(_ context.Context, m Message) error {
	l.log.Info("notification (log only)",
		zap.String("recipient", m.Recipient),
		zap.String("template", m.Template),
		zap.String("fund_id", m.FundID),
		zap.Any("params", m.Params))
	return nil
}
