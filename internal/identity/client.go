// Package identity counts an organization's billable seats through the
// identity provider's admin API.
//
// The raw member count includes service accounts that back machine clients
// named after the organization, so the billable seat count is members minus
// matching clients. Authentication uses the OAuth2 client credentials grant;
// token acquisition and refresh are handled by the oauth2 transport.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/vantage-compute/vantage-billing/internal/config"
)

// Client talks to the identity provider admin API.
type Client struct {
	cfg  *config.IdentityConfig
	http *http.Client
}

// NewClient creates an identity client. The context governs token refresh
// requests for the lifetime of the client, so pass a long-lived one.
func NewClient(ctx context.Context, cfg *config.IdentityConfig) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return &Client{
		cfg:  cfg,
		http: cc.Client(ctx),
	}
}

// UsersCount returns the billable seat count of an organization: the admin
// API's member count minus the machine clients registered under the
// organization's name.
func (c *Client) UsersCount(ctx context.Context, organizationID string) (int, error) {
	members, err := c.membersCount(ctx, organizationID)
	if err != nil {
		return 0, err
	}

	clients, err := c.clientsCount(ctx, organizationID)
	if err != nil {
		return 0, err
	}

	seats := members - clients
	if seats < 0 {
		seats = 0
	}
	return seats, nil
}

func (c *Client) membersCount(ctx context.Context, organizationID string) (int, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/organizations/%s/members/count",
		c.cfg.BaseURL, c.cfg.Realm, organizationID)

	var count int
	if err := c.getJSON(ctx, endpoint, &count); err != nil {
		return 0, fmt.Errorf("failed to count organization members: %w", err)
	}
	return count, nil
}

func (c *Client) clientsCount(ctx context.Context, organizationID string) (int, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/clients?clientId=%s&search=true",
		c.cfg.BaseURL, c.cfg.Realm, url.QueryEscape(organizationID))

	var clients []json.RawMessage
	if err := c.getJSON(ctx, endpoint, &clients); err != nil {
		return 0, fmt.Errorf("failed to list organization clients: %w", err)
	}
	return len(clients), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from identity provider", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
