package transcripts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"talksink/internal/domain"
	"talksink/internal/repository"
)

// ErrNotDownloaded indicates transcription was requested for a talk whose
// audio is not on disk. Transcription always runs off the local file, never
// off the stream.
var ErrNotDownloaded = errors.New("talk audio is not downloaded")

// Segment is one transcribed span as emitted by the transcriber.
type Segment struct {
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Text     string  `json:"text"`
	Error    string  `json:"error,omitempty"`
}

// SegmentFunc observes segments as they stream in.
type SegmentFunc func(segment Segment)

// Service submits downloaded audio to the transcription endpoint and stores
// the assembled transcript. The endpoint streams newline-delimited JSON
// segments so callers can show live partial text.
type Service struct {
	store      *repository.Store
	httpClient *http.Client
	baseURL    string
}

func NewService(store *repository.Store, client *http.Client, baseURL string) *Service {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &Service{
		store:      store,
		httpClient: client,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// Enabled reports whether a transcriber endpoint is configured.
func (s *Service) Enabled() bool {
	return s.baseURL != ""
}

// Get returns the stored transcript for a talk.
func (s *Service) Get(ctx context.Context, talkID string) (domain.Transcript, error) {
	return s.store.GetTranscript(ctx, talkID)
}

// Transcribe streams the downloaded audio through the transcriber, invoking
// onSegment per decoded line, and persists the assembled transcript.
func (s *Service) Transcribe(ctx context.Context, talkID string, onSegment SegmentFunc) (domain.Transcript, error) {
	if !s.Enabled() {
		return domain.Transcript{}, errors.New("transcriber endpoint is not configured")
	}

	record, err := s.store.GetDownloadedTalk(ctx, talkID)
	if err != nil {
		return domain.Transcript{}, ErrNotDownloaded
	}

	file, err := os.Open(record.FilePath)
	if err != nil {
		return domain.Transcript{}, ErrNotDownloaded
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transcribe", file)
	if err != nil {
		return domain.Transcript{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Transcript{}, fmt.Errorf("transcribe failed: %s", resp.Status)
	}

	var parts []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var segment Segment
		if err := json.Unmarshal([]byte(line), &segment); err != nil {
			return domain.Transcript{}, fmt.Errorf("decode transcript segment: %w", err)
		}
		if segment.Error != "" {
			return domain.Transcript{}, fmt.Errorf("transcribe failed: %s", segment.Error)
		}
		if onSegment != nil {
			onSegment(segment)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Transcript{}, fmt.Errorf("read transcript stream: %w", err)
	}
	if len(parts) == 0 {
		return domain.Transcript{}, errors.New("transcriber returned no segments")
	}

	transcript := domain.Transcript{
		TalkID:    talkID,
		Text:      strings.Join(parts, " "),
		Language:  "en",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveTranscript(ctx, transcript); err != nil {
		return domain.Transcript{}, err
	}
	return transcript, nil
}
