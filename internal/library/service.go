package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"talksink/internal/domain"
	"talksink/internal/filters"
	"talksink/internal/playback"
	"talksink/internal/repository"
)

// Prober answers whether the network currently looks usable.
type Prober interface {
	Online() bool
}

// Service is the read side of the talk library: filtered listing over the
// local catalog mirror, facet options, and playback source resolution. When
// the network is down, listings fall back to downloaded talks only.
type Service struct {
	store  *repository.Store
	prober Prober
}

func NewService(store *repository.Store, prober Prober) *Service {
	return &Service{store: store, prober: prober}
}

// GetTalk loads one catalog record by id.
func (s *Service) GetTalk(ctx context.Context, talkID string) (domain.Talk, error) {
	return s.store.GetTalk(ctx, talkID)
}

// ListTalks returns talks matching the filters. Offline, the result is
// restricted to talks that are available locally.
func (s *Service) ListTalks(ctx context.Context, f filters.TalkSearchFilters) ([]domain.TalkResult, error) {
	if s.prober != nil && !s.prober.Online() {
		f = f.Clone()
		f.IsDownloaded = filters.TriYes
	}
	return s.store.ListTalks(ctx, f)
}

// FacetOptions returns the distinct values available for one facet.
func (s *Service) FacetOptions(ctx context.Context, facet filters.Facet) ([]string, error) {
	return s.store.FacetOptions(ctx, facet)
}

// ListDownloaded returns the downloaded talks with their file metadata,
// most recently downloaded first.
func (s *Service) ListDownloaded(ctx context.Context) ([]domain.DownloadedTalk, error) {
	records, err := s.store.ListDownloadedTalks(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DanglingFiles finds files in the download root that no downloaded-talk
// record points at.
func (s *Service) DanglingFiles(ctx context.Context, downloadRoot string) ([]domain.DanglingFile, error) {
	return s.store.FindDanglingFiles(ctx, downloadRoot)
}

// ResolveSources picks the playback source candidates for a talk, local file
// first. Resolving to a local file counts as access and bumps the record's
// last-accessed time.
func (s *Service) ResolveSources(ctx context.Context, talk domain.Talk) ([]playback.Source, error) {
	var sources []playback.Source

	record, err := s.store.GetDownloadedTalk(ctx, talk.ID)
	switch {
	case err == nil:
		if _, statErr := os.Stat(record.FilePath); statErr == nil {
			sources = append(sources, playback.Source{Location: record.FilePath, Local: true})
			if touchErr := s.store.TouchLastAccessed(ctx, talk.ID); touchErr != nil {
				log.Printf("library: touch last accessed %s: %v", talk.ID, touchErr)
			}
		} else {
			log.Printf("library: downloaded file missing for %s: %s", talk.ID, record.FilePath)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("resolve sources: %w", err)
	}

	if audio := strings.TrimSpace(talk.AudioURL); audio != "" {
		sources = append(sources, playback.Source{Location: audio})
	}
	if video := strings.TrimSpace(talk.VideoURL); video != "" {
		sources = append(sources, playback.Source{Location: video, Video: true})
	}
	return sources, nil
}
