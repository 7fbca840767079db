// Package messaging wraps the NATS connection used to publish
// settlement alert events. The service only ever publishes; consumers
// (notification senders, dashboards) live elsewhere.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Client wraps a NATS connection for event publishing.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to NATS. Zero config fields get defaults suited to
// a long-lived service: short reconnect wait, unlimited reconnects.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "closeout"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Publish sends one JSON-encoded event to a subject. Delivery is
// fire-and-forget; the connection buffers while reconnecting.
func (c *Client) Publish(ctx context.Context, subject string, data any) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return c.conn.Publish(subject, payload)
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Drain flushes buffered messages and closes the connection.
func (c *Client) Drain() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}

// Close closes the connection without draining.
func (c *Client) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}
