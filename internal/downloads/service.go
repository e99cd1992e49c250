package downloads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"talksink/internal/config"
	"talksink/internal/domain"
	"talksink/internal/repository"
)

var invalidPathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ErrNotDownloadable indicates a talk without fetchable audio: either no
// audio URL at all, or audio hosted on an excluded video-hosting domain.
var ErrNotDownloadable = errors.New("talk has no downloadable audio")

type SleepFunc func(context.Context, time.Duration) error

// ProgressFunc receives fractional progress in [0, 1] for a transfer.
type ProgressFunc func(fraction float64)

type Service struct {
	cfg        config.Config
	store      *repository.Store
	httpClient *http.Client
	sleep      SleepFunc
}

func NewService(cfg config.Config, store *repository.Store, client *http.Client, sleep SleepFunc) *Service {
	if sleep == nil {
		sleep = defaultSleep
	}
	return &Service{cfg: cfg, store: store, httpClient: client, sleep: sleep}
}

// Downloadable applies the service's excluded-host policy to a talk.
func (s *Service) Downloadable(talk domain.Talk) bool {
	return talk.Downloadable(s.cfg.ExcludedAudioHosts)
}

// DownloadTalk fetches a talk's audio to local storage and persists the
// downloaded-talk record. Progress callbacks are monotonically non-decreasing.
func (s *Service) DownloadTalk(ctx context.Context, talk domain.Talk, progress ProgressFunc) (string, int64, error) {
	if !s.Downloadable(talk) {
		return "", 0, ErrNotDownloadable
	}

	finalPath, err := s.talkFilePath(talk)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(s.cfg.TmpDir, 0o755); err != nil {
		return "", 0, err
	}

	attempts := s.cfg.RetryCount + 1
	if attempts <= 0 {
		attempts = 1
	}

	partialPath := s.talkPartialPath(talk)
	var attemptErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}

		resultPath, size, err := s.downloadOnce(ctx, talk, finalPath, partialPath, progress)
		if err == nil {
			return resultPath, size, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", 0, err
		}

		attemptErr = err
		if i == attempts-1 {
			break
		}

		backoff := time.Second << i
		maxBackoff := time.Duration(s.cfg.RetryBackoffMaxSec) * time.Second
		if maxBackoff > 0 && backoff > maxBackoff {
			backoff = maxBackoff
		}
		if backoff > 0 {
			if err := s.sleep(ctx, backoff); err != nil {
				return "", 0, err
			}
		}
	}
	return "", 0, attemptErr
}

// RemovePartial discards any partial transfer file for a talk, used after a
// cancelled operation so no stale bytes linger in the tmp dir.
func (s *Service) RemovePartial(talk domain.Talk) error {
	err := os.Remove(s.talkPartialPath(talk))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteLocalFile removes a downloaded file from disk.
func (s *Service) DeleteLocalFile(filePath string) error {
	err := os.Remove(filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Service) downloadOnce(ctx context.Context, talk domain.Talk, finalPath, partialPath string, progress ProgressFunc) (string, int64, error) {
	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", 0, err
	}
	existingSize := stat.Size()
	if _, err := file.Seek(existingSize, io.SeekStart); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, talk.AudioURL, nil)
	if err != nil {
		return "", 0, err
	}
	if ua := strings.TrimSpace(s.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download talk: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if existingSize > 0 {
			if err := file.Truncate(0); err != nil {
				return "", 0, err
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return "", 0, err
			}
			existingSize = 0
		}
	case http.StatusPartialContent:
	default:
		return "", 0, fmt.Errorf("download failed: %s", resp.Status)
	}

	var total int64
	if resp.ContentLength > 0 {
		total = existingSize + resp.ContentLength
	}
	counter := &progressWriter{
		written:  existingSize,
		total:    total,
		progress: progress,
	}

	if _, err := io.Copy(io.MultiWriter(file, counter), resp.Body); err != nil {
		return "", 0, err
	}
	if err := file.Sync(); err != nil {
		return "", 0, err
	}
	if err := file.Close(); err != nil {
		return "", 0, err
	}

	hash, err := computeFileHash(partialPath)
	if err != nil {
		return "", 0, fmt.Errorf("compute hash: %w", err)
	}

	if err := moveFile(partialPath, finalPath); err != nil {
		return "", 0, err
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return "", 0, err
	}
	sizeBytes := info.Size()

	if err := s.store.PersistDownloadResult(ctx, talk, finalPath, sizeBytes, hash); err != nil {
		return "", 0, err
	}
	if progress != nil {
		progress(1.0)
	}

	return finalPath, sizeBytes, nil
}

// progressWriter tracks written bytes and reports fractional progress when
// the total transfer size is known.
type progressWriter struct {
	written  int64
	total    int64
	progress ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.progress != nil && w.total > 0 {
		fraction := float64(w.written) / float64(w.total)
		if fraction > 1 {
			fraction = 1
		}
		w.progress(fraction)
	}
	return len(p), nil
}

func (s *Service) talkFilePath(talk domain.Talk) (string, error) {
	root := strings.TrimSpace(s.cfg.DownloadRoot)
	if root == "" {
		return "", fmt.Errorf("download root is not configured")
	}
	speakerName := safeFilename(talk.Speaker)
	if speakerName == "" {
		speakerName = "speaker"
	}
	talkName := safeFilename(talk.Title)
	if talkName == "" {
		talkName = safeFilename(talk.ID)
	}
	if talkName == "" {
		talkName = "talk"
	}
	ext := fileExtension(talk.AudioURL)
	return filepath.Join(root, speakerName, talkName+ext), nil
}

func (s *Service) talkPartialPath(talk domain.Talk) string {
	name := safeFilename(talk.ID)
	if name == "" {
		name = safeFilename(talk.Title)
	}
	if name == "" {
		name = "talk"
	}
	return filepath.Join(s.cfg.TmpDir, fmt.Sprintf("talksink-%s.partial", name))
}

func safeFilename(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := invalidPathChars.ReplaceAllString(value, "_")
	cleaned = strings.Trim(cleaned, "._- ")
	if cleaned == "" {
		return ""
	}
	if len(cleaned) > 128 {
		cleaned = cleaned[:128]
	}
	return cleaned
}

func fileExtension(rawURL string) string {
	if rawURL == "" {
		return ".mp3"
	}
	u, err := url.Parse(rawURL)
	if err == nil {
		ext := path.Ext(u.Path)
		if ext != "" && len(ext) <= 10 {
			return ext
		}
	}
	return ".mp3"
}

func computeFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func moveFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			in, err := os.Open(src)
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := os.Create(dst)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, in); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if err := os.Remove(src); err != nil {
				return err
			}
			return nil
		}
		return err
	}
	return nil
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
