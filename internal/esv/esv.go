package esv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client interacts with the ESV passage-text API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client. The baseURL can be overridden for testing; if
// empty the public API endpoint is used.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.esv.org"
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
	}
}

// Passage is a resolved scripture passage.
type Passage struct {
	Reference string
	Text      string
}

// Lookup retrieves passage text for a scripture reference.
func (c *Client) Lookup(ctx context.Context, reference string) (Passage, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Passage{}, fmt.Errorf("passage reference cannot be empty")
	}

	endpoint, err := url.Parse(c.baseURL + "/v3/passage/text/")
	if err != nil {
		return Passage{}, err
	}
	q := endpoint.Query()
	q.Set("q", reference)
	q.Set("include-headings", "false")
	q.Set("include-footnotes", "false")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Passage{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Passage{}, fmt.Errorf("esv lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Passage{}, fmt.Errorf("esv lookup failed: %s", resp.Status)
	}

	var payload passageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Passage{}, fmt.Errorf("decode passage response: %w", err)
	}
	if len(payload.Passages) == 0 {
		return Passage{}, fmt.Errorf("passage not found")
	}

	return Passage{
		Reference: strings.TrimSpace(payload.Canonical),
		Text:      strings.TrimSpace(payload.Passages[0]),
	}, nil
}

type passageResponse struct {
	Canonical string   `json:"canonical"`
	Passages  []string `json:"passages"`
}
