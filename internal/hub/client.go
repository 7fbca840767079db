package hub

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/models"
)

// Ensure Client implements SettlementSource
var _ SettlementSource = (*Client)(nil)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds each request. Zero means 5 seconds.
	Timeout time.Duration

	// InsecureSkipTLSVerify disables certificate verification, for
	// self-signed test clusters only.
	InsecureSkipTLSVerify bool

	// Observe, when set, receives one call per hub request with the
	// operation name, the HTTP status (0 when the request never got an
	// answer) and the elapsed time.
	Observe func(op string, status int, duration time.Duration)
}

// Operation names passed to Options.Observe.
const (
	OpGetSettlement          = "get_settlement"
	OpMarkParticipantSettled = "mark_participant_settled"
	OpCloseCycle             = "close_cycle"
)

// Client is the HTTP implementation of SettlementSource.
type Client struct {
	baseURL string
	http    *http.Client
	observe func(op string, status int, duration time.Duration)
}

// NewClient creates a hub client for the given base URL.
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.InsecureSkipTLSVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		httpClient.Transport = transport
	}

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		observe: opts.Observe,
	}
}

// do runs one request and reports it to the observer.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if c.observe != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.observe(op, status, time.Since(start))
	}
	return resp, err
}

// settlementDocument is the hub's wire form of a cycle. Older hubs emit
// the position list under participantSettlements instead of
// participants, and key each position by id or participantId instead of
// accountId; both are normalized here.
type settlementDocument struct {
	ID                     flexibleID         `json:"id"`
	State                  models.CycleState  `json:"state"`
	Participants           []positionDocument `json:"participants"`
	ParticipantSettlements []positionDocument `json:"participantSettlements"`
}

type positionDocument struct {
	AccountID     flexibleID      `json:"accountId"`
	LegacyID      flexibleID      `json:"id"`
	ParticipantID flexibleID      `json:"participantId"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	Currency      string          `json:"currency"`
	State         string          `json:"state"`
}

func (d positionDocument) accountID() string {
	if d.AccountID != "" {
		return string(d.AccountID)
	}
	if d.LegacyID != "" {
		return string(d.LegacyID)
	}
	return string(d.ParticipantID)
}

// flexibleID decodes hub identifiers that arrive as either JSON numbers
// or strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// GetSettlement fetches the authoritative cycle document from the hub.
func (c *Client) GetSettlement(ctx context.Context, cycleID string) (*models.SettlementCycle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/settlements/"+url.PathEscape(cycleID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build settlement request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(OpGetSettlement, req)
	if err != nil {
		return nil, fmt.Errorf("settlement lookup for cycle %s: %w (%v)", cycleID, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("settlement lookup for cycle %s returned status %d: %w",
			cycleID, resp.StatusCode, ErrUnavailable)
	default:
		return nil, &StatusError{Op: OpGetSettlement, Code: resp.StatusCode}
	}

	var doc settlementDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode settlement document: %w", err)
	}

	positions := doc.Participants
	if len(positions) == 0 {
		positions = doc.ParticipantSettlements
	}

	cycle := &models.SettlementCycle{
		ID:    string(doc.ID),
		State: doc.State,
	}
	if cycle.ID == "" {
		cycle.ID = cycleID
	}
	for _, p := range positions {
		cycle.Participants = append(cycle.Participants, models.Position{
			AccountID: p.accountID(),
			NetAmount: p.NetAmount,
			Currency:  p.Currency,
			State:     p.State,
		})
	}

	return cycle, nil
}

// MarkParticipantSettled flags one participant's position as settled on
// the hub.
func (c *Client) MarkParticipantSettled(ctx context.Context, cycleID, accountID string) error {
	endpoint := c.baseURL + "/settlements/" + url.PathEscape(cycleID) +
		"/participants/" + url.PathEscape(accountID)
	return c.putState(ctx, OpMarkParticipantSettled, endpoint, cycleID)
}

// CloseCycle moves the whole cycle to SETTLED on the hub.
func (c *Client) CloseCycle(ctx context.Context, cycleID string) error {
	return c.putState(ctx, OpCloseCycle, c.baseURL+"/settlements/"+url.PathEscape(cycleID), cycleID)
}

// putState issues the hub's settled transition: a PUT of
// {"state": "SETTLED"} against the given endpoint.
func (c *Client) putState(ctx context.Context, op, endpoint, cycleID string) error {
	body, err := json.Marshal(map[string]string{"state": string(models.StateSettled)})
	if err != nil {
		return fmt.Errorf("failed to encode state transition: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build state transition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(op, req)
	if err != nil {
		return fmt.Errorf("state transition for cycle %s: %w (%v)", cycleID, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("cycle %s: %w", cycleID, ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("state transition for cycle %s returned status %d: %w",
			cycleID, resp.StatusCode, ErrUnavailable)
	default:
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
}
