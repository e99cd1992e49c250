package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"talksink/internal/domain"
	"talksink/internal/filters"
	"talksink/internal/repository"
	"talksink/internal/storage"
)

type stubProber struct {
	online bool
}

func (p *stubProber) Online() bool { return p.online }

func newTestService(t *testing.T, online bool) (*Service, *repository.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	store := repository.New(db)
	return NewService(store, &stubProber{online: online}), store
}

func seedTalks(t *testing.T, store *repository.Store) {
	t.Helper()
	talks := []domain.Talk{
		{ID: "t1", Title: "The Glory of God", Speaker: "John Piper", AudioURL: "https://media.example.org/t1.mp3"},
		{ID: "t2", Title: "Grace Alone", Speaker: "Don Carson", AudioURL: "https://media.example.org/t2.mp3",
			VideoURL: "https://player.vimeo.com/external/2.mp4"},
	}
	if _, err := store.UpsertTalks(context.Background(), talks); err != nil {
		t.Fatalf("UpsertTalks() error = %v", err)
	}
}

func TestListTalksOfflineFallsBackToDownloaded(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, false)
	seedTalks(t, store)

	filePath := filepath.Join(t.TempDir(), "t1.mp3")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "The Glory of God", FilePath: filePath,
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	results, err := svc.ListTalks(ctx, filters.New())
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 1 || results[0].Talk.ID != "t1" {
		t.Fatalf("offline listing should show only downloaded talks: %+v", results)
	}
}

func TestListTalksOfflineDoesNotMutateCallerFilters(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, false)
	seedTalks(t, store)

	f := filters.New()
	if _, err := svc.ListTalks(ctx, f); err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if f.IsDownloaded != filters.TriUnset {
		t.Fatalf("caller filters mutated: %v", f.IsDownloaded)
	}
}

func TestListTalksOnlineShowsEverything(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, true)
	seedTalks(t, store)

	results, err := svc.ListTalks(ctx, filters.New())
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 talks online, got %d", len(results))
	}
}

func TestResolveSourcesPrefersLocalFile(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, true)
	seedTalks(t, store)

	filePath := filepath.Join(t.TempDir(), "t2.mp3")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t2", Title: "Grace Alone", FilePath: filePath,
		LastAccessedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	talk, err := svc.GetTalk(ctx, "t2")
	if err != nil {
		t.Fatalf("GetTalk() error = %v", err)
	}

	sources, err := svc.ResolveSources(ctx, talk)
	if err != nil {
		t.Fatalf("ResolveSources() error = %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected local + audio + video, got %+v", sources)
	}
	if !sources[0].Local || sources[0].Location != filePath {
		t.Fatalf("local source should come first: %+v", sources[0])
	}
	if sources[1].Local || sources[1].Video {
		t.Fatalf("second source should be remote audio: %+v", sources[1])
	}
	if !sources[2].Video {
		t.Fatalf("third source should be video: %+v", sources[2])
	}

	// Resolving a local file counts as access.
	record, err := store.GetDownloadedTalk(ctx, "t2")
	if err != nil {
		t.Fatalf("GetDownloadedTalk() error = %v", err)
	}
	if record.LastAccessedAt.Year() < time.Now().Year() {
		t.Fatalf("last accessed not bumped: %v", record.LastAccessedAt)
	}
}

func TestResolveSourcesSkipsMissingLocalFile(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, true)
	seedTalks(t, store)

	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "The Glory of God", FilePath: filepath.Join(t.TempDir(), "gone.mp3"),
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	talk, err := svc.GetTalk(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTalk() error = %v", err)
	}

	sources, err := svc.ResolveSources(ctx, talk)
	if err != nil {
		t.Fatalf("ResolveSources() error = %v", err)
	}
	if len(sources) != 1 || sources[0].Local {
		t.Fatalf("missing file should leave only remote audio: %+v", sources)
	}
}
