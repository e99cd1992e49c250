package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talksink/internal/domain"
	"talksink/internal/filters"
)

var ErrNoDownloadTask = errors.New("no download task available")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertTalks writes a batch of catalog talks, returning the number of talks
// not previously known.
func (s *Store) UpsertTalks(ctx context.Context, talks []domain.Talk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	added := 0
	for _, talk := range talks {
		id := strings.TrimSpace(talk.ID)
		if id == "" {
			continue
		}
		title := strings.TrimSpace(talk.Title)
		if title == "" {
			title = "Untitled Talk"
		}

		var recorded interface{}
		if talk.HasRecorded {
			recorded = talk.RecordedAt.UTC().Format(time.RFC3339Nano)
		}

		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO talks
(id, title, speaker, series, scripture, bible_book, conference, conference_type, collection, recorded_at, duration_sec, audio_url, video_url, artwork_url, chapters_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, title, talk.Speaker, talk.Series, talk.Scripture, talk.BibleBook,
			talk.Conference, talk.ConfType, talk.Collection, recorded, talk.DurationSec,
			talk.AudioURL, talk.VideoURL, talk.ArtworkURL, talk.ChaptersURL)
		if err != nil {
			return 0, err
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			added++
		}

		if _, err := tx.ExecContext(ctx, `UPDATE talks SET
title = ?,
speaker = ?,
series = ?,
scripture = ?,
bible_book = ?,
conference = ?,
conference_type = ?,
collection = ?,
recorded_at = COALESCE(?, recorded_at),
duration_sec = ?,
audio_url = ?,
video_url = ?,
artwork_url = ?,
chapters_url = ?
WHERE id = ?`,
			title, talk.Speaker, talk.Series, talk.Scripture, talk.BibleBook,
			talk.Conference, talk.ConfType, talk.Collection, recorded, talk.DurationSec,
			talk.AudioURL, talk.VideoURL, talk.ArtworkURL, talk.ChaptersURL, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return added, nil
}

func (s *Store) GetTalk(ctx context.Context, talkID string) (domain.Talk, error) {
	var talk domain.Talk
	var recorded, series, scripture, book, conference, confType, collection sql.NullString
	var audio, video, artwork, chaptersURL sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, title, speaker, series, scripture, bible_book, conference, conference_type, collection, recorded_at, duration_sec, audio_url, video_url, artwork_url, chapters_url
FROM talks WHERE id = ?`, talkID).
		Scan(&talk.ID, &talk.Title, &talk.Speaker, &series, &scripture, &book,
			&conference, &confType, &collection, &recorded, &talk.DurationSec,
			&audio, &video, &artwork, &chaptersURL)
	if err != nil {
		return domain.Talk{}, err
	}
	talk.Series = series.String
	talk.Scripture = scripture.String
	talk.BibleBook = book.String
	talk.Conference = conference.String
	talk.ConfType = confType.String
	talk.Collection = collection.String
	talk.AudioURL = audio.String
	talk.VideoURL = video.String
	talk.ArtworkURL = artwork.String
	talk.ChaptersURL = chaptersURL.String
	if recorded.Valid {
		if parsed, ok := parseStoredTime(recorded.String); ok {
			talk.RecordedAt = parsed
			talk.HasRecorded = true
		}
	}
	return talk, nil
}

// ListTalks returns talks matching the filter state, newest first. Facet
// selections translate to IN sets, tri-state flags to EXISTS subqueries.
func (s *Store) ListTalks(ctx context.Context, f filters.TalkSearchFilters) ([]domain.TalkResult, error) {
	var conds []string
	var args []interface{}

	facetColumns := map[filters.Facet]string{
		filters.FacetSpeaker:    "t.speaker",
		filters.FacetConference: "t.conference",
		filters.FacetConfType:   "t.conference_type",
		filters.FacetBook:       "t.bible_book",
		filters.FacetCollection: "t.collection",
	}
	for facet, column := range facetColumns {
		options := f.Selected(facet)
		if len(options) == 0 {
			continue
		}
		placeholders := make([]string, len(options))
		for i, option := range options {
			placeholders[i] = "?"
			args = append(args, option)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	}

	if years := f.Selected(filters.FacetYear); len(years) > 0 {
		placeholders := make([]string, len(years))
		for i, year := range years {
			placeholders[i] = "?"
			args = append(args, year)
		}
		conds = append(conds, fmt.Sprintf("substr(t.recorded_at, 1, 4) IN (%s)", strings.Join(placeholders, ", ")))
	}

	if query := strings.TrimSpace(f.Query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		conds = append(conds, "(LOWER(t.title) LIKE ? OR LOWER(t.speaker) LIKE ? OR LOWER(t.series) LIKE ?)")
		args = append(args, like, like, like)
	}

	if f.FromDate != nil {
		conds = append(conds, "t.recorded_at >= ?")
		args = append(args, f.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if f.ToDate != nil {
		conds = append(conds, "t.recorded_at <= ?")
		args = append(args, f.ToDate.UTC().Format(time.RFC3339Nano))
	}

	switch f.HasTranscript {
	case filters.TriYes:
		conds = append(conds, "EXISTS (SELECT 1 FROM transcripts tr WHERE tr.talk_id = t.id)")
	case filters.TriNo:
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM transcripts tr WHERE tr.talk_id = t.id)")
	}
	switch f.IsDownloaded {
	case filters.TriYes:
		conds = append(conds, "EXISTS (SELECT 1 FROM downloaded_talks dt WHERE dt.talk_id = t.id)")
	case filters.TriNo:
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM downloaded_talks dt WHERE dt.talk_id = t.id)")
	}

	query := `SELECT t.id, t.title, t.speaker, COALESCE(t.series, ''), t.recorded_at, t.duration_sec,
EXISTS (SELECT 1 FROM downloaded_talks dt WHERE dt.talk_id = t.id),
EXISTS (SELECT 1 FROM transcripts tr WHERE tr.talk_id = t.id)
FROM talks t`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += `
ORDER BY
    CASE WHEN t.recorded_at IS NULL OR t.recorded_at = '' THEN 1 ELSE 0 END,
    t.recorded_at DESC,
    LOWER(t.speaker),
    LOWER(t.title)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.TalkResult, 0, 128)
	for rows.Next() {
		var result domain.TalkResult
		var recorded sql.NullString
		if err := rows.Scan(&result.Talk.ID, &result.Talk.Title, &result.Talk.Speaker,
			&result.Talk.Series, &recorded, &result.Talk.DurationSec,
			&result.Downloaded, &result.HasTranscript); err != nil {
			return nil, err
		}
		if recorded.Valid {
			if parsed, ok := parseStoredTime(recorded.String); ok {
				result.Talk.RecordedAt = parsed
				result.Talk.HasRecorded = true
			}
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// FacetOptions returns the distinct values present for a facet, for building
// selection prompts.
func (s *Store) FacetOptions(ctx context.Context, facet filters.Facet) ([]string, error) {
	column := ""
	switch facet {
	case filters.FacetSpeaker:
		column = "speaker"
	case filters.FacetConference:
		column = "conference"
	case filters.FacetConfType:
		column = "conference_type"
	case filters.FacetBook:
		column = "bible_book"
	case filters.FacetCollection:
		column = "collection"
	case filters.FacetYear:
		column = "substr(recorded_at, 1, 4)"
	default:
		return nil, fmt.Errorf("unknown facet: %s", facet)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT %s AS v FROM talks WHERE v IS NOT NULL AND v != '' ORDER BY v`, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := make([]string, 0, 16)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		options = append(options, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return options, nil
}

func (s *Store) ListQueued(ctx context.Context) ([]domain.QueuedTalkResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t.id, t.title, t.speaker, COALESCE(t.series, ''), t.recorded_at, t.duration_sec, d.retry_count, d.enqueued_at
FROM talks t
JOIN downloads d ON d.talk_id = t.id
ORDER BY d.priority DESC, d.enqueued_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.QueuedTalkResult, 0, 32)
	for rows.Next() {
		var result domain.QueuedTalkResult
		var recorded sql.NullString
		var enqueued string
		if err := rows.Scan(&result.Talk.ID, &result.Talk.Title, &result.Talk.Speaker,
			&result.Talk.Series, &recorded, &result.Talk.DurationSec,
			&result.RetryCount, &enqueued); err != nil {
			return nil, err
		}
		if recorded.Valid {
			if parsed, ok := parseStoredTime(recorded.String); ok {
				result.Talk.RecordedAt = parsed
				result.Talk.HasRecorded = true
			}
		}
		if parsed, ok := parseStoredTime(enqueued); ok {
			result.EnqueuedAt = parsed
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// EnqueueDownload adds a talk to the download queue. Re-enqueueing a talk
// already queued or claimed coalesces into the existing entry.
func (s *Store) EnqueueDownload(ctx context.Context, talkID string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO downloads (talk_id, enqueued_at, priority)
VALUES (?, ?, 0)
ON CONFLICT(talk_id) DO NOTHING`, talkID, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// RequeueDownload returns a claimed talk to the queue after a failed attempt.
func (s *Store) RequeueDownload(ctx context.Context, talkID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE downloads SET claimed_at = NULL, enqueued_at = ? WHERE talk_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), talkID)
	return err
}

func (s *Store) RemoveFromQueue(ctx context.Context, talkID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM downloads WHERE talk_id = ?", talkID)
	return err
}

func (s *Store) IncrementRetryCount(ctx context.Context, talkID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE downloads SET retry_count = retry_count + 1 WHERE talk_id = ?", talkID)
	return err
}

func (s *Store) CountQueued(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&count)
	return count, err
}

// ClaimNextDownload transactionally claims the oldest unclaimed queue entry.
func (s *Store) ClaimNextDownload(ctx context.Context) (string, error) {
	var talkID string
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				tx.Rollback()
			}
		}()

		talkID = ""
		now := time.Now().UTC().Format(time.RFC3339Nano)
		err = tx.QueryRowContext(ctx, `SELECT talk_id FROM downloads WHERE claimed_at IS NULL ORDER BY priority DESC, enqueued_at LIMIT 1`).Scan(&talkID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoDownloadTask
			}
			return err
		}

		res, err := tx.ExecContext(ctx, "UPDATE downloads SET claimed_at = ? WHERE talk_id = ? AND claimed_at IS NULL", now, talkID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNoDownloadTask
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	})
	if err != nil {
		return "", err
	}
	return talkID, nil
}

// PersistDownloadResult records a completed download: the denormalized talk
// snapshot plus file metadata, and removal of the queue entry.
func (s *Store) PersistDownloadResult(ctx context.Context, talk domain.Talk, filePath string, sizeBytes int64, hash string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				tx.Rollback()
			}
		}()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `INSERT INTO downloaded_talks (talk_id, title, speaker, series, file_path, size_bytes, hash, created_at, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(talk_id) DO UPDATE SET title=excluded.title, speaker=excluded.speaker, series=excluded.series, file_path=excluded.file_path, size_bytes=excluded.size_bytes, hash=excluded.hash, created_at=excluded.created_at`,
			talk.ID, talk.Title, talk.Speaker, talk.Series, filePath, sizeBytes, hash, now, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM downloads WHERE talk_id = ?", talk.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

// SaveDownloadedRecord writes a downloaded-talk record directly, used by
// manifest import reconciliation.
func (s *Store) SaveDownloadedRecord(ctx context.Context, record domain.DownloadedTalk) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	lastAccessed := record.LastAccessedAt
	if lastAccessed.IsZero() {
		lastAccessed = createdAt
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO downloaded_talks (talk_id, title, speaker, series, file_path, size_bytes, hash, created_at, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(talk_id) DO UPDATE SET title=excluded.title, speaker=excluded.speaker, series=excluded.series, file_path=excluded.file_path, size_bytes=excluded.size_bytes, hash=excluded.hash`,
		record.TalkID, record.Title, record.Speaker, record.Series, record.FilePath,
		record.SizeBytes, record.Hash,
		createdAt.Format(time.RFC3339Nano), lastAccessed.Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetDownloadedTalk(ctx context.Context, talkID string) (domain.DownloadedTalk, error) {
	var record domain.DownloadedTalk
	var series, hash sql.NullString
	var createdAt, lastAccessed string
	err := s.db.QueryRowContext(ctx, `SELECT talk_id, title, speaker, series, file_path, size_bytes, hash, created_at, last_accessed_at
FROM downloaded_talks WHERE talk_id = ?`, talkID).
		Scan(&record.TalkID, &record.Title, &record.Speaker, &series, &record.FilePath,
			&record.SizeBytes, &hash, &createdAt, &lastAccessed)
	if err != nil {
		return domain.DownloadedTalk{}, err
	}
	record.Series = series.String
	record.Hash = hash.String
	if parsed, ok := parseStoredTime(createdAt); ok {
		record.CreatedAt = parsed
	}
	if parsed, ok := parseStoredTime(lastAccessed); ok {
		record.LastAccessedAt = parsed
	}
	return record, nil
}

func (s *Store) ListDownloadedTalks(ctx context.Context) ([]domain.DownloadedTalk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT talk_id, title, speaker, series, file_path, size_bytes, hash, created_at, last_accessed_at
FROM downloaded_talks
ORDER BY created_at DESC, LOWER(title)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DownloadedTalk, 0, 32)
	for rows.Next() {
		var record domain.DownloadedTalk
		var series, hash sql.NullString
		var createdAt, lastAccessed string
		if err := rows.Scan(&record.TalkID, &record.Title, &record.Speaker, &series,
			&record.FilePath, &record.SizeBytes, &hash, &createdAt, &lastAccessed); err != nil {
			return nil, err
		}
		record.Series = series.String
		record.Hash = hash.String
		if parsed, ok := parseStoredTime(createdAt); ok {
			record.CreatedAt = parsed
		}
		if parsed, ok := parseStoredTime(lastAccessed); ok {
			record.LastAccessedAt = parsed
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ListDownloadedIDs returns the identifiers of all downloaded talks, used to
// seed the synchronous downloaded-check cache.
func (s *Store) ListDownloadedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT talk_id FROM downloaded_talks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 32)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) DeleteDownloaded(ctx context.Context, talkID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM downloaded_talks WHERE talk_id = ?", talkID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TouchLastAccessed updates the last-accessed timestamp, called when a
// downloaded talk starts playback.
func (s *Store) TouchLastAccessed(ctx context.Context, talkID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE downloaded_talks SET last_accessed_at = ? WHERE talk_id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), talkID)
	return err
}

func (s *Store) CountDownloaded(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloaded_talks").Scan(&count)
	return count, err
}

// PruneMissingDownloads removes downloaded-talk records whose backing files
// no longer exist, returning the pruned identifiers.
func (s *Store) PruneMissingDownloads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT talk_id, file_path FROM downloaded_talks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var id, filePath string
		if err := rows.Scan(&id, &filePath); err != nil {
			return nil, err
		}
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			missing = append(missing, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range missing {
		if _, err := s.DeleteDownloaded(ctx, id); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// FindDanglingFiles scans the download directory and returns files not
// tracked by any downloaded-talk record.
func (s *Store) FindDanglingFiles(ctx context.Context, downloadRoot string) ([]domain.DanglingFile, error) {
	if downloadRoot == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT file_path FROM downloaded_talks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	knownFiles := make(map[string]bool)
	for rows.Next() {
		var filePath string
		if err := rows.Scan(&filePath); err != nil {
			return nil, err
		}
		knownFiles[filePath] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var dangling []domain.DanglingFile
	err = filepath.Walk(downloadRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !knownFiles[path] {
			dangling = append(dangling, domain.DanglingFile{
				Path:      path,
				SizeBytes: info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dangling, nil
}

func (s *Store) SaveTranscript(ctx context.Context, transcript domain.Transcript) error {
	createdAt := transcript.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO transcripts (talk_id, text, language, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(talk_id) DO UPDATE SET text=excluded.text, language=excluded.language, created_at=excluded.created_at`,
		transcript.TalkID, transcript.Text, transcript.Language, createdAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetTranscript(ctx context.Context, talkID string) (domain.Transcript, error) {
	var transcript domain.Transcript
	var language sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, "SELECT talk_id, text, language, created_at FROM transcripts WHERE talk_id = ?", talkID).
		Scan(&transcript.TalkID, &transcript.Text, &language, &createdAt)
	if err != nil {
		return domain.Transcript{}, err
	}
	transcript.Language = language.String
	if parsed, ok := parseStoredTime(createdAt); ok {
		transcript.CreatedAt = parsed
	}
	return transcript, nil
}

func (s *Store) HasTranscript(ctx context.Context, talkID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts WHERE talk_id = ?", talkID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func parseStoredTime(value string) (time.Time, bool) {
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed, true
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoDownloadTask) {
			return err
		}
		if !isSQLiteBusy(err) {
			return err
		}
		backoff := 50 * time.Millisecond * time.Duration(1<<i)
		if err := waitWithContext(ctx, backoff); err != nil {
			return err
		}
	}
	return err
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
