package downloads

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"talksink/internal/domain"
	"talksink/internal/repository"
)

// ErrDownloadInProgress indicates a second request for an identifier whose
// download is already active; the existing operation is kept.
var ErrDownloadInProgress = errors.New("download already in progress")

// TalkProvider resolves talk metadata for queued identifiers.
type TalkProvider interface {
	GetTalk(ctx context.Context, talkID string) (domain.Talk, error)
}

// Manager coordinates concurrent download operations keyed by talk
// identifier. It owns the per-identifier progress map, the synchronous
// downloaded-ID cache, and a bounded worker pool draining the persistent
// queue. All mutation of the tracked-operations map happens under one mutex;
// observers only ever see published snapshots.
type Manager struct {
	downloads *Service
	store     *repository.Store
	talks     TalkProvider
	wakeCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	active     map[string]context.CancelFunc
	progress   map[string]domain.DownloadProgress
	downloaded map[string]struct{}
	subs       map[int]chan domain.DownloadProgress
	nextSub    int
}

func NewManager(downloads *Service, store *repository.Store, talks TalkProvider, workers int) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		downloads:  downloads,
		store:      store,
		talks:      talks,
		wakeCh:     make(chan struct{}, workers*2+1),
		cancel:     cancel,
		active:     make(map[string]context.CancelFunc),
		progress:   make(map[string]domain.DownloadProgress),
		downloaded: make(map[string]struct{}),
		subs:       make(map[int]chan domain.DownloadProgress),
	}
	for i := 0; i < workers; i++ {
		manager.wg.Add(1)
		go manager.worker(ctx)
	}
	return manager
}

// Reconcile seeds the synchronous downloaded-ID cache from the store,
// pruning records whose files have gone missing. Called once at launch.
func (m *Manager) Reconcile(ctx context.Context) error {
	pruned, err := m.store.PruneMissingDownloads(ctx)
	if err != nil {
		return err
	}
	for _, id := range pruned {
		log.Printf("pruned downloaded talk %s: file missing", id)
	}

	ids, err := m.store.ListDownloadedIDs(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.downloaded = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.downloaded[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// Subscribe registers a typed observer of per-identifier download progress.
// The returned func unsubscribes.
func (m *Manager) Subscribe() (<-chan domain.DownloadProgress, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan domain.DownloadProgress, 64)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
	}
}

// Request enqueues a talk for download. It fails fast for talks without
// downloadable audio and coalesces requests for identifiers already being
// downloaded.
func (m *Manager) Request(ctx context.Context, talk domain.Talk) error {
	if !m.downloads.Downloadable(talk) {
		return ErrNotDownloadable
	}

	m.mu.Lock()
	if _, isActive := m.active[talk.ID]; isActive {
		m.mu.Unlock()
		return ErrDownloadInProgress
	}
	m.mu.Unlock()

	if err := m.store.EnqueueDownload(ctx, talk.ID); err != nil {
		return err
	}
	m.publish(domain.DownloadProgress{
		TalkID: talk.ID,
		Status: domain.DownloadStatusPending,
	})
	m.Notify()
	return nil
}

// RequestAll enqueues every candidate talk that is downloadable and not
// already downloaded, returning the number of downloads issued. Individual
// failures do not stop the remaining candidates.
func (m *Manager) RequestAll(ctx context.Context, talks []domain.Talk) int {
	issued := 0
	for _, talk := range talks {
		if m.IsDownloadedSync(talk.ID) {
			continue
		}
		if !m.downloads.Downloadable(talk) {
			continue
		}
		if err := m.Request(ctx, talk); err != nil {
			if errors.Is(err, ErrDownloadInProgress) {
				continue
			}
			log.Printf("request download %s: %v", talk.ID, err)
			continue
		}
		issued++
	}
	return issued
}

// Cancel cooperatively cancels an in-flight or queued download. Idempotent;
// leaves no downloaded-talk record and no partial file behind.
func (m *Manager) Cancel(ctx context.Context, talkID string) error {
	m.mu.Lock()
	cancel, isActive := m.active[talkID]
	m.mu.Unlock()

	if isActive {
		cancel()
		return nil
	}

	// Not in flight: drop any queued entry.
	if err := m.store.RemoveFromQueue(ctx, talkID); err != nil {
		return err
	}
	m.mu.Lock()
	if p, ok := m.progress[talkID]; ok && p.Status == domain.DownloadStatusPending {
		delete(m.progress, talkID)
	}
	m.mu.Unlock()
	m.publish(domain.DownloadProgress{
		TalkID: talkID,
		Status: domain.DownloadStatusCancelled,
	})
	return nil
}

// Delete removes the local file and downloaded-talk record for a talk,
// cancelling any active download for the identifier first. Safe to call
// whether or not anything exists for the identifier.
func (m *Manager) Delete(ctx context.Context, talkID string) error {
	if err := m.Cancel(ctx, talkID); err != nil {
		return err
	}
	// Give an in-flight operation no chance to recreate the record after the
	// delete: wait for the identifier to leave the active set.
	for {
		m.mu.Lock()
		_, isActive := m.active[talkID]
		m.mu.Unlock()
		if !isActive {
			break
		}
		if err := waitBriefly(ctx); err != nil {
			return err
		}
	}

	record, err := m.store.GetDownloadedTalk(ctx, talkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	if err := m.downloads.DeleteLocalFile(record.FilePath); err != nil {
		return err
	}
	if _, err := m.store.DeleteDownloaded(ctx, talkID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.downloaded, talkID)
	delete(m.progress, talkID)
	m.mu.Unlock()
	return nil
}

// IsDownloaded answers against the store, the asynchronous source of truth.
func (m *Manager) IsDownloaded(ctx context.Context, talkID string) (bool, error) {
	_, err := m.store.GetDownloadedTalk(ctx, talkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDownloadedSync answers from the locally maintained cache, cheap enough
// for list-rendering hot paths.
func (m *Manager) IsDownloadedSync(talkID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.downloaded[talkID]
	return ok
}

// Progress returns the last published state for an identifier.
func (m *Manager) Progress(talkID string) (domain.DownloadProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[talkID]
	return p, ok
}

// ActiveCount returns the number of in-flight downloads.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) Notify() {
	if m == nil {
		return
	}
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	m.Notify()
	m.wg.Wait()

	m.mu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		talkID, err := m.store.ClaimNextDownload(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNoDownloadTask) {
				if err := m.waitForWork(ctx); err != nil {
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("download queue claim failed: %v", err)
			if err := waitWithContext(ctx, time.Second); err != nil {
				return
			}
			continue
		}

		m.runDownload(ctx, talkID)
	}
}

func (m *Manager) runDownload(ctx context.Context, talkID string) {
	talk, err := m.talks.GetTalk(ctx, talkID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("download queue fetch talk %s: %v", talkID, err)
		}
		m.finish(ctx, talkID, domain.DownloadStatusFailed, err)
		return
	}
	if !m.downloads.Downloadable(talk) {
		log.Printf("talk %s is not downloadable", talkID)
		m.finish(ctx, talkID, domain.DownloadStatusFailed, ErrNotDownloadable)
		return
	}

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()

	m.mu.Lock()
	if _, exists := m.active[talkID]; exists {
		// Another worker already owns this identifier. Never start a second
		// write to the same file.
		m.mu.Unlock()
		return
	}
	m.active[talkID] = opCancel
	m.mu.Unlock()

	m.publish(domain.DownloadProgress{
		TalkID: talkID,
		Status: domain.DownloadStatusActive,
	})

	_, _, err = m.downloads.DownloadTalk(opCtx, talk, func(fraction float64) {
		m.publish(domain.DownloadProgress{
			TalkID:   talkID,
			Status:   domain.DownloadStatusActive,
			Fraction: fraction,
		})
	})

	m.mu.Lock()
	delete(m.active, talkID)
	m.mu.Unlock()

	switch {
	case err == nil:
		m.mu.Lock()
		m.downloaded[talkID] = struct{}{}
		m.mu.Unlock()
		m.publish(domain.DownloadProgress{
			TalkID:   talkID,
			Status:   domain.DownloadStatusCompleted,
			Fraction: 1.0,
		})
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// Cancelled by the user, not by shutdown.
		if err := m.downloads.RemovePartial(talk); err != nil {
			log.Printf("remove partial %s: %v", talkID, err)
		}
		m.finish(ctx, talkID, domain.DownloadStatusCancelled, err)
	case ctx.Err() != nil:
		// Shutdown: leave the queue entry claimed-free for the next launch.
		if requeueErr := m.store.RequeueDownload(context.Background(), talkID); requeueErr != nil {
			log.Printf("requeue %s: %v", talkID, requeueErr)
		}
	default:
		log.Printf("download %s failed: %v", talkID, err)
		m.finish(ctx, talkID, domain.DownloadStatusFailed, err)
	}
}

// finish records a terminal state: the queue entry is removed and the final
// status published. Failed operations are not retried automatically; a fresh
// user request starts over.
func (m *Manager) finish(ctx context.Context, talkID string, status string, cause error) {
	if err := m.store.RemoveFromQueue(ctx, talkID); err != nil && ctx.Err() == nil {
		log.Printf("remove %s from queue: %v", talkID, err)
	}
	progress := domain.DownloadProgress{TalkID: talkID, Status: status}
	if cause != nil && status == domain.DownloadStatusFailed {
		progress.Err = cause.Error()
	}
	m.publish(progress)
}

// publish stores the latest per-identifier state and fans it out to
// subscribers. Fractions never regress while an operation is active.
func (m *Manager) publish(progress domain.DownloadProgress) {
	m.mu.Lock()
	if previous, ok := m.progress[progress.TalkID]; ok &&
		previous.Status == domain.DownloadStatusActive &&
		progress.Status == domain.DownloadStatusActive &&
		progress.Fraction < previous.Fraction {
		progress.Fraction = previous.Fraction
	}
	m.progress[progress.TalkID] = progress
	channels := make([]chan domain.DownloadProgress, 0, len(m.subs))
	for _, ch := range m.subs {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- progress:
		default:
		}
	}
}

func (m *Manager) waitForWork(ctx context.Context) error {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.wakeCh:
		return nil
	case <-timer.C:
		return nil
	}
}

func waitBriefly(ctx context.Context) error {
	return waitWithContext(ctx, 20*time.Millisecond)
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
