package sync

import (
	"context"
	"fmt"
	"log"

	"talksink/internal/catalog"
	"talksink/internal/repository"
)

const pageSize = 200

// Result summarizes one catalog refresh.
type Result struct {
	Fetched int
	Added   int
	Pages   int
}

// Service mirrors the remote catalog into the local store, page by page.
type Service struct {
	client   *catalog.Client
	store    *repository.Store
	maxTalks int
}

func NewService(client *catalog.Client, store *repository.Store, maxTalks int) *Service {
	return &Service{client: client, store: store, maxTalks: maxTalks}
}

// Refresh pulls the catalog and upserts every talk. A page that fails to
// fetch aborts the refresh; pages already stored stay stored.
func (s *Service) Refresh(ctx context.Context) (Result, error) {
	var result Result

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		fetched, err := s.client.ListTalks(ctx, page, pageSize)
		if err != nil {
			return result, fmt.Errorf("fetch catalog page %d: %w", page, err)
		}
		result.Pages++

		added, err := s.store.UpsertTalks(ctx, fetched.Talks)
		if err != nil {
			return result, fmt.Errorf("store catalog page %d: %w", page, err)
		}
		result.Fetched += len(fetched.Talks)
		result.Added += added

		if !fetched.HasMore || len(fetched.Talks) == 0 {
			break
		}
		if s.maxTalks > 0 && result.Fetched >= s.maxTalks {
			log.Printf("sync: stopping at %d talks (max_talks=%d)", result.Fetched, s.maxTalks)
			break
		}
	}

	log.Printf("sync: refreshed catalog, %d talks over %d pages, %d new", result.Fetched, result.Pages, result.Added)
	return result, nil
}
