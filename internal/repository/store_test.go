package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"talksink/internal/domain"
	"talksink/internal/filters"
	"talksink/internal/repository"
	"talksink/internal/storage"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return repository.New(db)
}

func sampleTalks() []domain.Talk {
	return []domain.Talk{
		{
			ID: "t1", Title: "The Glory of God", Speaker: "John Piper",
			Conference: "National 2019", ConfType: "national", BibleBook: "Romans",
			Scripture: "Romans 8:28-30", Collection: "Favorites",
			RecordedAt: time.Date(2019, 4, 12, 10, 0, 0, 0, time.UTC), HasRecorded: true,
			DurationSec: 2700, AudioURL: "https://media.example.org/t1.mp3",
		},
		{
			ID: "t2", Title: "Grace Alone", Speaker: "Don Carson",
			Conference: "Regional 2020", ConfType: "regional", BibleBook: "Ephesians",
			RecordedAt: time.Date(2020, 9, 3, 14, 0, 0, 0, time.UTC), HasRecorded: true,
			DurationSec: 3100, AudioURL: "https://media.example.org/t2.mp3",
		},
		{
			ID: "t3", Title: "Q&A Panel", Speaker: "John Piper",
			Conference: "National 2019", ConfType: "national",
			RecordedAt: time.Date(2019, 4, 13, 16, 0, 0, 0, time.UTC), HasRecorded: true,
			DurationSec: 1800, VideoURL: "https://player.vimeo.com/external/3.mp4",
		},
	}
}

func seedSampleTalks(t *testing.T, store *repository.Store) {
	t.Helper()
	added, err := store.UpsertTalks(context.Background(), sampleTalks())
	if err != nil {
		t.Fatalf("UpsertTalks() error = %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 new talks, got %d", added)
	}
}

func TestUpsertTalksIsIdempotentAndUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	talks := sampleTalks()
	talks[0].Title = "The Glory of God (remastered)"
	added, err := store.UpsertTalks(ctx, talks)
	if err != nil {
		t.Fatalf("UpsertTalks() second pass error = %v", err)
	}
	if added != 0 {
		t.Fatalf("expected 0 new talks on re-upsert, got %d", added)
	}

	talk, err := store.GetTalk(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTalk() error = %v", err)
	}
	if talk.Title != "The Glory of God (remastered)" {
		t.Fatalf("title not updated: %s", talk.Title)
	}
	if !talk.HasRecorded || talk.RecordedAt.Year() != 2019 {
		t.Fatalf("recorded date lost: %+v", talk)
	}
}

func TestGetTalkNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetTalk(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListTalksFacetFiltering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	f := filters.New()
	f.Select(filters.FacetSpeaker, "John Piper")

	results, err := store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 Piper talks, got %d", len(results))
	}

	f.Select(filters.FacetBook, "Romans")
	results, err = store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 1 || results[0].Talk.ID != "t1" {
		t.Fatalf("expected only t1, got %+v", results)
	}

	// Clearing the book facet widens the result back out.
	f.ClearFacet(filters.FacetBook)
	results, err = store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 talks after facet clear, got %d", len(results))
	}
}

func TestListTalksYearAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	f := filters.New()
	f.Select(filters.FacetYear, "2020")
	results, err := store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 1 || results[0].Talk.ID != "t2" {
		t.Fatalf("expected only t2 for year 2020, got %+v", results)
	}

	f = filters.New()
	f.Query = "grace"
	results, err = store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 1 || results[0].Talk.ID != "t2" {
		t.Fatalf("expected only t2 for query, got %+v", results)
	}
}

func TestListTalksTriStateFlags(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	filePath := filepath.Join(t.TempDir(), "t1.mp3")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "The Glory of God", FilePath: filePath,
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}
	if err := store.SaveTranscript(ctx, domain.Transcript{
		TalkID: "t2", Text: "grace alone", Language: "en", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	f := filters.New()
	f.IsDownloaded = filters.TriYes
	results, err := store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 1 || results[0].Talk.ID != "t1" || !results[0].Downloaded {
		t.Fatalf("downloaded=yes mismatch: %+v", results)
	}

	f = filters.New()
	f.HasTranscript = filters.TriNo
	results, err = store.ListTalks(ctx, f)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("transcript=no should match 2 talks, got %d", len(results))
	}
	for _, r := range results {
		if r.Talk.ID == "t2" {
			t.Fatalf("t2 has a transcript and should be excluded: %+v", results)
		}
	}
}

func TestFacetOptions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	speakers, err := store.FacetOptions(ctx, filters.FacetSpeaker)
	if err != nil {
		t.Fatalf("FacetOptions() error = %v", err)
	}
	if len(speakers) != 2 {
		t.Fatalf("expected 2 distinct speakers, got %v", speakers)
	}

	years, err := store.FacetOptions(ctx, filters.FacetYear)
	if err != nil {
		t.Fatalf("FacetOptions() error = %v", err)
	}
	if len(years) != 2 || years[0] != "2019" || years[1] != "2020" {
		t.Fatalf("unexpected year options: %v", years)
	}
}

func TestDownloadQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	if err := store.EnqueueDownload(ctx, "t1"); err != nil {
		t.Fatalf("EnqueueDownload() error = %v", err)
	}
	// Enqueueing the same talk again coalesces.
	if err := store.EnqueueDownload(ctx, "t1"); err != nil {
		t.Fatalf("second EnqueueDownload() error = %v", err)
	}
	if count, _ := store.CountQueued(ctx); count != 1 {
		t.Fatalf("expected 1 queued, got %d", count)
	}

	claimed, err := store.ClaimNextDownload(ctx)
	if err != nil {
		t.Fatalf("ClaimNextDownload() error = %v", err)
	}
	if claimed != "t1" {
		t.Fatalf("expected t1 claimed, got %s", claimed)
	}

	// Nothing else to claim while t1 is held.
	if _, err := store.ClaimNextDownload(ctx); !errors.Is(err, repository.ErrNoDownloadTask) {
		t.Fatalf("expected ErrNoDownloadTask, got %v", err)
	}

	// Requeue releases the claim.
	if err := store.RequeueDownload(ctx, "t1"); err != nil {
		t.Fatalf("RequeueDownload() error = %v", err)
	}
	claimed, err = store.ClaimNextDownload(ctx)
	if err != nil || claimed != "t1" {
		t.Fatalf("expected to reclaim t1, got %s, %v", claimed, err)
	}

	if err := store.RemoveFromQueue(ctx, "t1"); err != nil {
		t.Fatalf("RemoveFromQueue() error = %v", err)
	}
	if count, _ := store.CountQueued(ctx); count != 0 {
		t.Fatalf("expected empty queue, got %d", count)
	}
}

func TestClaimOrderIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	if err := store.EnqueueDownload(ctx, "t2"); err != nil {
		t.Fatalf("EnqueueDownload(t2) error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.EnqueueDownload(ctx, "t1"); err != nil {
		t.Fatalf("EnqueueDownload(t1) error = %v", err)
	}

	first, err := store.ClaimNextDownload(ctx)
	if err != nil {
		t.Fatalf("ClaimNextDownload() error = %v", err)
	}
	if first != "t2" {
		t.Fatalf("expected oldest entry first, got %s", first)
	}
}

func TestPersistDownloadResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	if err := store.EnqueueDownload(ctx, "t1"); err != nil {
		t.Fatalf("EnqueueDownload() error = %v", err)
	}

	talk, err := store.GetTalk(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTalk() error = %v", err)
	}
	filePath := filepath.Join(t.TempDir(), "t1.mp3")
	if err := store.PersistDownloadResult(ctx, talk, filePath, 1234, "abc123"); err != nil {
		t.Fatalf("PersistDownloadResult() error = %v", err)
	}

	record, err := store.GetDownloadedTalk(ctx, "t1")
	if err != nil {
		t.Fatalf("GetDownloadedTalk() error = %v", err)
	}
	if record.FilePath != filePath || record.SizeBytes != 1234 || record.Hash != "abc123" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Title != talk.Title || record.Speaker != talk.Speaker {
		t.Fatalf("snapshot fields missing: %+v", record)
	}

	// The queue entry goes away in the same transaction.
	if count, _ := store.CountQueued(ctx); count != 0 {
		t.Fatalf("queue entry survived persist: %d", count)
	}
}

func TestPruneMissingDownloads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	present := filepath.Join(t.TempDir(), "present.mp3")
	if err := os.WriteFile(present, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	for _, record := range []domain.DownloadedTalk{
		{TalkID: "keep", Title: "Keep", FilePath: present},
		{TalkID: "drop", Title: "Drop", FilePath: filepath.Join(t.TempDir(), "gone.mp3")},
	} {
		if err := store.SaveDownloadedRecord(ctx, record); err != nil {
			t.Fatalf("SaveDownloadedRecord(%s) error = %v", record.TalkID, err)
		}
	}

	pruned, err := store.PruneMissingDownloads(ctx)
	if err != nil {
		t.Fatalf("PruneMissingDownloads() error = %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "drop" {
		t.Fatalf("unexpected pruned ids: %v", pruned)
	}

	ids, err := store.ListDownloadedIDs(ctx)
	if err != nil {
		t.Fatalf("ListDownloadedIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "keep" {
		t.Fatalf("unexpected remaining ids: %v", ids)
	}
}

func TestFindDanglingFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	root := t.TempDir()
	tracked := filepath.Join(root, "Speaker", "tracked.mp3")
	untracked := filepath.Join(root, "Speaker", "untracked.mp3")
	if err := os.MkdirAll(filepath.Dir(tracked), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, path := range []string{tracked, untracked} {
		if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "Tracked", FilePath: tracked,
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	dangling, err := store.FindDanglingFiles(ctx, root)
	if err != nil {
		t.Fatalf("FindDanglingFiles() error = %v", err)
	}
	if len(dangling) != 1 || dangling[0].Path != untracked {
		t.Fatalf("unexpected dangling files: %+v", dangling)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSampleTalks(t, store)

	saved := domain.Transcript{
		TalkID:    "t1",
		Text:      "In the beginning was the Word.",
		Language:  "en",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveTranscript(ctx, saved); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	has, err := store.HasTranscript(ctx, "t1")
	if err != nil || !has {
		t.Fatalf("HasTranscript() = %v, %v", has, err)
	}

	got, err := store.GetTranscript(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTranscript() error = %v", err)
	}
	if got.Text != saved.Text || got.Language != "en" {
		t.Fatalf("unexpected transcript: %+v", got)
	}

	if _, err := store.GetTranscript(ctx, "t2"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing transcript, got %v", err)
	}
}

func TestTouchLastAccessed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	filePath := filepath.Join(t.TempDir(), "t1.mp3")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := store.SaveDownloadedRecord(ctx, domain.DownloadedTalk{
		TalkID: "t1", Title: "Talk", FilePath: filePath,
		LastAccessedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveDownloadedRecord() error = %v", err)
	}

	if err := store.TouchLastAccessed(ctx, "t1"); err != nil {
		t.Fatalf("TouchLastAccessed() error = %v", err)
	}

	record, err := store.GetDownloadedTalk(ctx, "t1")
	if err != nil {
		t.Fatalf("GetDownloadedTalk() error = %v", err)
	}
	if record.LastAccessedAt.Year() < time.Now().Year() {
		t.Fatalf("last accessed not bumped: %v", record.LastAccessedAt)
	}
}
