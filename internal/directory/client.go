package directory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mmynk/closeout/internal/models"
)

// Ensure Client implements Resolver
var _ Resolver = (*Client)(nil)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds each request. Zero means 5 seconds.
	Timeout time.Duration

	// InsecureSkipTLSVerify disables certificate verification, for
	// self-signed test clusters only.
	InsecureSkipTLSVerify bool
}

// Client resolves identities against the central ledger's participant
// directory.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a directory client for the given ledger base URL.
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
	}
}

type participantDocument struct {
	Name     string            `json:"name"`
	Accounts []accountDocument `json:"accounts"`
}

type accountDocument struct {
	ID                flexibleID `json:"id"`
	Currency          string     `json:"currency"`
	LedgerAccountType string     `json:"ledgerAccountType"`
}

type endpointDocument struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ResolveAccount finds the participant owning the account and the email
// address registered for settlement changes. A failed contact lookup
// degrades to an identity without contacts rather than an error.
func (c *Client) ResolveAccount(ctx context.Context, accountID string) (*models.ParticipantIdentity, error) {
	name, err := c.lookupName(ctx, accountID)
	if err != nil {
		return nil, err
	}

	identity := &models.ParticipantIdentity{
		AccountID: accountID,
		Name:      name,
	}

	email, err := c.lookupEmail(ctx, name)
	if err != nil {
		slog.Debug("endpoint lookup failed", "participant", name, "error", err)
		return identity, nil
	}
	if email != "" {
		identity.Contacts = append(identity.Contacts, models.Contact{
			Channel: ChannelEmail,
			Address: email,
		})
	}

	return identity, nil
}

// lookupName scans the full participant list for the account owner.
func (c *Client) lookupName(ctx context.Context, accountID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/participants", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build participants request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("participant lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("participant lookup returned status %d", resp.StatusCode)
	}

	var participants []participantDocument
	if err := json.NewDecoder(resp.Body).Decode(&participants); err != nil {
		return "", fmt.Errorf("failed to decode participant list: %w", err)
	}

	for _, p := range participants {
		for _, account := range p.Accounts {
			if string(account.ID) == accountID {
				return p.Name, nil
			}
		}
	}

	return "", fmt.Errorf("account %s: %w", accountID, ErrIdentityUnresolved)
}

// lookupEmail fetches the participant's registered endpoints and picks
// the settlement email one. An empty result means none is registered.
func (c *Client) lookupEmail(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/participants/"+url.PathEscape(name)+"/endpoints", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build endpoints request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("endpoint lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint lookup returned status %d", resp.StatusCode)
	}

	var endpoints []endpointDocument
	if err := json.NewDecoder(resp.Body).Decode(&endpoints); err != nil {
		return "", fmt.Errorf("failed to decode endpoint list: %w", err)
	}

	for _, ep := range endpoints {
		if ep.Type == endpointTypeSettlementEmail {
			return ep.Value, nil
		}
	}

	return "", nil
}

// flexibleID decodes ledger identifiers that arrive as either JSON
// numbers or strings.
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
