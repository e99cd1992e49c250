package chapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"talksink/internal/domain"
)

// Fetch retrieves and parses a chapter document for a talk. The document is
// a Podlove Simple Chapters style XML list.
func Fetch(ctx context.Context, client *http.Client, url string) ([]domain.Chapter, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chapters: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch chapters failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chapters: %w", err)
	}

	return Parse(data)
}

// Parse decodes a chapter document.
func Parse(data []byte) ([]domain.Chapter, error) {
	var doc chaptersDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse chapters: %w", err)
	}

	result := make([]domain.Chapter, 0, len(doc.Chapters))
	for _, item := range doc.Chapters {
		start, err := ParseTimestamp(item.Start)
		if err != nil {
			continue
		}
		chapter := domain.Chapter{
			Title:    strings.TrimSpace(item.Title),
			StartSec: start,
		}
		if raw := strings.TrimSpace(item.End); raw != "" {
			if end, err := ParseTimestamp(raw); err == nil && end > start {
				chapter.EndSec = end
				chapter.HasEnd = true
			}
		}
		result = append(result, chapter)
	}
	return result, nil
}

// ParseTimestamp accepts "HH:MM:SS", "MM:SS", or plain seconds (optionally
// fractional).
func ParseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("unable to parse timestamp: %s", value)
	}

	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unable to parse timestamp: %s", value)
		}
		total = total*60 + n
	}
	return total, nil
}

type chaptersDocument struct {
	XMLName  xml.Name      `xml:"chapters"`
	Chapters []chapterItem `xml:"chapter"`
}

type chapterItem struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
	Title string `xml:"title,attr"`
}
