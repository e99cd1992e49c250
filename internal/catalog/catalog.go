package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"talksink/internal/domain"
)

// Client interacts with the talk catalog API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client using the provided HTTP client. The baseURL can
// be overridden for testing.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Page is one page of catalog results.
type Page struct {
	Talks   []domain.Talk
	HasMore bool
}

// ListTalks fetches one page of the talk catalog.
func (c *Client) ListTalks(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	endpoint, err := url.Parse(c.baseURL + "/talks")
	if err != nil {
		return Page{}, err
	}
	q := endpoint.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Page{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("catalog list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("catalog list failed: %s", resp.Status)
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Page{}, fmt.Errorf("decode catalog response: %w", err)
	}

	talks := make([]domain.Talk, 0, len(payload.Talks))
	for _, item := range payload.Talks {
		talks = append(talks, item.toDomain())
	}
	return Page{Talks: talks, HasMore: payload.HasMore}, nil
}

// GetTalk retrieves a single talk by its identifier.
func (c *Client) GetTalk(ctx context.Context, id string) (domain.Talk, error) {
	endpoint, err := url.Parse(c.baseURL + "/talks/" + url.PathEscape(id))
	if err != nil {
		return domain.Talk{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.Talk{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Talk{}, fmt.Errorf("catalog lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Talk{}, fmt.Errorf("talk not found")
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Talk{}, fmt.Errorf("catalog lookup failed: %s", resp.Status)
	}

	var item talkResult
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return domain.Talk{}, fmt.Errorf("decode lookup response: %w", err)
	}
	return item.toDomain(), nil
}

type listResponse struct {
	Talks   []talkResult `json:"talks"`
	HasMore bool         `json:"hasMore"`
}

type talkResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Speaker     string  `json:"speaker"`
	Series      string  `json:"series"`
	Scripture   string  `json:"scripture"`
	BibleBook   string  `json:"bibleBook"`
	Conference  string  `json:"conference"`
	ConfType    string  `json:"conferenceType"`
	Collection  string  `json:"collection"`
	RecordedAt  string  `json:"recordedAt"`
	DurationSec float64 `json:"durationSeconds"`
	AudioURL    string  `json:"audioUrl"`
	VideoURL    string  `json:"videoUrl"`
	ArtworkURL  string  `json:"artworkUrl"`
	ChaptersURL string  `json:"chaptersUrl"`
}

func (t talkResult) toDomain() domain.Talk {
	talk := domain.Talk{
		ID:          strings.TrimSpace(t.ID),
		Title:       strings.TrimSpace(t.Title),
		Speaker:     strings.TrimSpace(t.Speaker),
		Series:      strings.TrimSpace(t.Series),
		Scripture:   strings.TrimSpace(t.Scripture),
		BibleBook:   strings.TrimSpace(t.BibleBook),
		Conference:  strings.TrimSpace(t.Conference),
		ConfType:    strings.TrimSpace(t.ConfType),
		Collection:  strings.TrimSpace(t.Collection),
		DurationSec: t.DurationSec,
		AudioURL:    strings.TrimSpace(t.AudioURL),
		VideoURL:    strings.TrimSpace(t.VideoURL),
		ArtworkURL:  strings.TrimSpace(t.ArtworkURL),
		ChaptersURL: strings.TrimSpace(t.ChaptersURL),
	}
	if raw := strings.TrimSpace(t.RecordedAt); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			talk.RecordedAt = parsed
			talk.HasRecorded = true
		} else if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			talk.RecordedAt = parsed
			talk.HasRecorded = true
		}
	}
	return talk
}
