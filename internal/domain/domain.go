package domain

import (
	"net/url"
	"strings"
	"time"
)

const (
	DownloadStatusPending   = "PENDING"
	DownloadStatusActive    = "ACTIVE"
	DownloadStatusCompleted = "COMPLETED"
	DownloadStatusFailed    = "FAILED"
	DownloadStatusCancelled = "CANCELLED"
)

// TransportPhase is the coarse playback engine state.
type TransportPhase string

const (
	PhaseStopped TransportPhase = "STOPPED"
	PhasePlaying TransportPhase = "PLAYING"
	PhasePaused  TransportPhase = "PAUSED"
)

type Talk struct {
	ID          string
	Title       string
	Speaker     string
	Series      string
	Scripture   string
	BibleBook   string
	Conference  string
	ConfType    string
	Collection  string
	RecordedAt  time.Time
	HasRecorded bool
	DurationSec float64
	AudioURL    string
	VideoURL    string
	ArtworkURL  string
	ChaptersURL string
}

// Playable reports whether the talk has any media source at all.
func (t Talk) Playable() bool {
	return strings.TrimSpace(t.AudioURL) != "" || strings.TrimSpace(t.VideoURL) != ""
}

// Downloadable reports whether the talk carries audio that can be fetched to
// local storage. Audio hosted on an excluded video-hosting domain does not
// qualify.
func (t Talk) Downloadable(excludedHosts []string) bool {
	audio := strings.TrimSpace(t.AudioURL)
	if audio == "" {
		return false
	}
	parsed, err := url.Parse(audio)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, excluded := range excludedHosts {
		excluded = strings.ToLower(strings.TrimSpace(excluded))
		if excluded == "" {
			continue
		}
		if host == excluded || strings.HasSuffix(host, "."+excluded) {
			return false
		}
	}
	return true
}

// Chapter is a named sub-segment of a talk's timeline.
type Chapter struct {
	Title    string
	StartSec float64
	EndSec   float64
	HasEnd   bool
}

// DownloadedTalk is the local on-device snapshot of a talk plus file
// metadata. Its lifetime is independent of the catalog record it was taken
// from.
type DownloadedTalk struct {
	TalkID         string
	Title          string
	Speaker        string
	Series         string
	FilePath       string
	SizeBytes      int64
	Hash           string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// DownloadProgress is the observable per-identifier download state.
type DownloadProgress struct {
	TalkID   string
	Status   string
	Fraction float64
	Err      string
}

type TalkRow struct {
	ID          string
	Title       string
	Speaker     string
	Series      string
	RecordedAt  time.Time
	HasRecorded bool
	DurationSec float64
}

type TalkResult struct {
	Talk          TalkRow
	Downloaded    bool
	HasTranscript bool
}

type QueuedTalkResult struct {
	Talk       TalkRow
	RetryCount int
	EnqueuedAt time.Time
}

type Transcript struct {
	TalkID    string
	Text      string
	Language  string
	CreatedAt time.Time
}

type DanglingFile struct {
	Path      string
	SizeBytes int64
}
