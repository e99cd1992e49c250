package manifest

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"talksink/internal/domain"
)

// Manifest is the root document for a downloaded-library backup. It records
// which talks are on disk and where, so a library can be re-imported after a
// database loss without re-downloading files that survived.
type Manifest struct {
	XMLName xml.Name `xml:"manifest"`
	Version string   `xml:"version,attr"`
	Created string   `xml:"created,attr,omitempty"`
	Talks   []Entry  `xml:"talk"`
}

// Entry describes one downloaded talk.
type Entry struct {
	ID             string `xml:"id,attr"`
	Title          string `xml:"title,attr"`
	Speaker        string `xml:"speaker,attr,omitempty"`
	Series         string `xml:"series,attr,omitempty"`
	FilePath       string `xml:"filePath,attr"`
	SizeBytes      int64  `xml:"sizeBytes,attr,omitempty"`
	Hash           string `xml:"hash,attr,omitempty"`
	CreatedAt      string `xml:"createdAt,attr,omitempty"`
	LastAccessedAt string `xml:"lastAccessedAt,attr,omitempty"`
}

// Export writes the downloaded-talk records as a manifest document.
func Export(w io.Writer, records []domain.DownloadedTalk) error {
	doc := Manifest{
		Version: "1.0",
		Created: time.Now().UTC().Format(time.RFC3339),
		Talks:   make([]Entry, 0, len(records)),
	}

	for _, record := range records {
		entry := Entry{
			ID:        record.TalkID,
			Title:     record.Title,
			Speaker:   record.Speaker,
			Series:    record.Series,
			FilePath:  record.FilePath,
			SizeBytes: record.SizeBytes,
			Hash:      record.Hash,
		}
		if !record.CreatedAt.IsZero() {
			entry.CreatedAt = record.CreatedAt.UTC().Format(time.RFC3339)
		}
		if !record.LastAccessedAt.IsZero() {
			entry.LastAccessedAt = record.LastAccessedAt.UTC().Format(time.RFC3339)
		}
		doc.Talks = append(doc.Talks, entry)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Import parses a manifest document back into downloaded-talk records.
// Entries without an id or file path are skipped.
func Import(r io.Reader) ([]domain.DownloadedTalk, error) {
	var doc Manifest
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	records := make([]domain.DownloadedTalk, 0, len(doc.Talks))
	for _, entry := range doc.Talks {
		if entry.ID == "" || entry.FilePath == "" {
			continue
		}
		record := domain.DownloadedTalk{
			TalkID:    entry.ID,
			Title:     entry.Title,
			Speaker:   entry.Speaker,
			Series:    entry.Series,
			FilePath:  entry.FilePath,
			SizeBytes: entry.SizeBytes,
			Hash:      entry.Hash,
		}
		if entry.CreatedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, entry.CreatedAt); err == nil {
				record.CreatedAt = parsed
			}
		}
		if entry.LastAccessedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, entry.LastAccessedAt); err == nil {
				record.LastAccessedAt = parsed
			}
		}
		records = append(records, record)
	}
	return records, nil
}
