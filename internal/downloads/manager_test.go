package downloads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"talksink/internal/domain"
	"talksink/internal/repository"
)

func waitForStatus(t *testing.T, events <-chan domain.DownloadProgress, talkID, status string) domain.DownloadProgress {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case progress, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s/%s", talkID, status)
			}
			if progress.TalkID == talkID && progress.Status == status {
				return progress
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach %s", talkID, status)
		}
	}
}

func seedTalk(t *testing.T, store *repository.Store, talk domain.Talk) {
	t.Helper()
	if _, err := store.UpsertTalks(context.Background(), []domain.Talk{talk}); err != nil {
		t.Fatalf("UpsertTalks() error = %v", err)
	}
}

func TestManagerDownloadsQueuedTalk(t *testing.T) {
	ctx := context.Background()
	const content = "downloaded-audio"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		w.Write([]byte(content))
	}))
	t.Cleanup(server.Close)

	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, server.Client(), nil)

	talk := serverTalk(server.URL, "t1")
	seedTalk(t, store, talk)

	manager := NewManager(svc, store, store, 1)
	t.Cleanup(manager.Stop)

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	if err := manager.Request(ctx, talk); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	done := waitForStatus(t, events, "t1", domain.DownloadStatusCompleted)
	if done.Fraction != 1.0 {
		t.Fatalf("expected final fraction 1.0, got %f", done.Fraction)
	}

	if !manager.IsDownloadedSync("t1") {
		t.Fatal("downloaded cache not updated after completion")
	}
	downloaded, err := manager.IsDownloaded(ctx, "t1")
	if err != nil || !downloaded {
		t.Fatalf("IsDownloaded() = %v, %v", downloaded, err)
	}

	queued, err := store.CountQueued(ctx)
	if err != nil {
		t.Fatalf("CountQueued() error = %v", err)
	}
	if queued != 0 {
		t.Fatalf("queue entry not removed after completion: %d", queued)
	}
}

func TestManagerCoalescesActiveAndCancels(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial-bytes"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)

	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, server.Client(), nil)

	talk := serverTalk(server.URL, "t1")
	seedTalk(t, store, talk)

	manager := NewManager(svc, store, store, 1)
	t.Cleanup(manager.Stop)

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	if err := manager.Request(ctx, talk); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	waitForStatus(t, events, "t1", domain.DownloadStatusActive)

	// A second request while the first is in flight is refused; the existing
	// operation keeps running.
	if err := manager.Request(ctx, talk); !errors.Is(err, ErrDownloadInProgress) {
		t.Fatalf("expected ErrDownloadInProgress, got %v", err)
	}

	if err := manager.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitForStatus(t, events, "t1", domain.DownloadStatusCancelled)

	// Cancellation leaves no downloaded record and no partial file.
	downloaded, err := manager.IsDownloaded(ctx, "t1")
	if err != nil {
		t.Fatalf("IsDownloaded() error = %v", err)
	}
	if downloaded {
		t.Fatal("cancelled download must not produce a record")
	}
	if _, err := os.Stat(svc.talkPartialPath(talk)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file survived cancellation: %v", err)
	}

	// Cancel is idempotent.
	if err := manager.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
}

func TestManagerCancelQueuedEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, http.DefaultClient, nil)

	talk := domain.Talk{ID: "t1", Title: "Queued", AudioURL: "https://media.example.org/t1.mp3"}
	seedTalk(t, store, talk)

	// No workers: the entry stays queued.
	manager := NewManager(svc, store, store, 0)
	t.Cleanup(manager.Stop)

	if err := manager.Request(ctx, talk); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if count, _ := store.CountQueued(ctx); count != 1 {
		t.Fatalf("expected 1 queued entry, got %d", count)
	}

	if err := manager.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if count, _ := store.CountQueued(ctx); count != 0 {
		t.Fatalf("expected empty queue after cancel, got %d", count)
	}
}

func TestManagerRequestAllSkipsDownloadedAndUnfetchable(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, http.DefaultClient, nil)

	existing := filepath.Join(t.TempDir(), "done.mp3")
	if err := os.WriteFile(existing, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	talks := []domain.Talk{
		{ID: "done", Title: "Already Here", AudioURL: "https://media.example.org/done.mp3"},
		{ID: "video", Title: "Video Only", AudioURL: "https://player.vimeo.com/external/1.mp3"},
		{ID: "bare", Title: "No Audio"},
		{ID: "ok1", Title: "Fetch Me", AudioURL: "https://media.example.org/ok1.mp3"},
		{ID: "ok2", Title: "Fetch Me Too", AudioURL: "https://media.example.org/ok2.mp3"},
	}
	if _, err := store.UpsertTalks(ctx, talks); err != nil {
		t.Fatalf("UpsertTalks() error = %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "done", Title: "Already Here", FilePath: existing,
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	manager := NewManager(svc, store, store, 0)
	t.Cleanup(manager.Stop)
	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	issued := manager.RequestAll(ctx, talks)
	if issued != 2 {
		t.Fatalf("expected 2 issued downloads, got %d", issued)
	}
	if count, _ := store.CountQueued(ctx); count != 2 {
		t.Fatalf("expected 2 queued entries, got %d", count)
	}
}

func TestReconcilePrunesMissingFiles(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, http.DefaultClient, nil)

	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "gone", Title: "Vanished", FilePath: filepath.Join(t.TempDir(), "missing.mp3"),
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	manager := NewManager(svc, store, store, 0)
	t.Cleanup(manager.Stop)
	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if manager.IsDownloadedSync("gone") {
		t.Fatal("record with missing file should be pruned from the cache")
	}
	downloaded, err := manager.IsDownloaded(ctx, "gone")
	if err != nil {
		t.Fatalf("IsDownloaded() error = %v", err)
	}
	if downloaded {
		t.Fatal("record with missing file should be pruned from the store")
	}
}

func TestManagerDeleteRemovesFileAndRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	cfg := testConfig(t)
	svc := NewService(cfg, store, http.DefaultClient, nil)

	filePath := filepath.Join(t.TempDir(), "talk.mp3")
	if err := os.WriteFile(filePath, []byte("audio"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "Saved", FilePath: filePath,
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	manager := NewManager(svc, store, store, 0)
	t.Cleanup(manager.Stop)
	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if err := manager.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(filePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file survived delete: %v", err)
	}
	if manager.IsDownloadedSync("t1") {
		t.Fatal("cache not updated after delete")
	}

	// Deleting again is a no-op.
	if err := manager.Delete(ctx, "t1"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}
