// Package provider is the boundary to the banking-rail consent API. Only the
// operations consent-service needs are modelled; the provider's own flows stay
// behind this interface.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Link is the provider-side consent handle plus where to send the user.
type Link struct {
	ProviderRef string `json:"provider_ref"`
	RedirectURL string `json:"redirect_url"`
}

type Client interface {
	// CreateLink starts a consent flow with the institution on the user's
	// behalf.
	CreateLink(ctx context.Context, institution string, userID string) (Link, error)
}

// HTTPClient talks to the banking-rail aggregator's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL string, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) CreateLink(ctx context.Context, institution string, userID string) (Link, error) {
	body, err := json.Marshal(map[string]string{
		"institution": institution,
		"end_user_id": userID,
	})
	if err != nil {
		return Link{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/consents", bytes.NewReader(body))
	if err != nil {
		return Link{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Link{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Link{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var link Link
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return Link{}, err
	}
	return link, nil
}

// NoopClient is used in development when no provider is configured.
type NoopClient struct{}

func (NoopClient) CreateLink(_ context.Context, institution string, userID string) (Link, error) {
	return Link{
		ProviderRef: "noop-" + institution + "-" + userID,
		RedirectURL: "https://example.invalid/consent",
	}, nil
}
