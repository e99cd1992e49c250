package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"talksink/internal/domain"
)

var (
	ErrNothingLoaded = errors.New("no talk loaded")
	ErrNotPlayable   = errors.New("talk has no audio or video source")
	ErrNoSource      = errors.New("no remaining playback source")
)

// Source is one resolved place the current talk can be played from.
type Source struct {
	Location string
	Local    bool
	Video    bool
}

// Resolver produces the ordered playback source candidates for a talk. The
// first candidate is preferred; later ones are fallbacks for Retry.
type Resolver interface {
	ResolveSources(ctx context.Context, talk domain.Talk) ([]Source, error)
}

// RepeatMode controls queue advancement when a track ends naturally.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// EventKind discriminates session events.
type EventKind string

const (
	EventLoaded     EventKind = "loaded"
	EventPhase      EventKind = "phase"
	EventPosition   EventKind = "position"
	EventRate       EventKind = "rate"
	EventQueue      EventKind = "queue"
	EventSleepTimer EventKind = "sleep_timer"
	EventChapters   EventKind = "chapters"
	EventError      EventKind = "error"
)

// Event pairs an event kind with the state snapshot taken when it fired.
type Event struct {
	Kind  EventKind
	State Snapshot
}

// Snapshot is the read-only published view of the session. Every observer
// (mini player, full player, row-level buttons) renders from the same
// snapshot, so simultaneous views stay consistent.
type Snapshot struct {
	Talk           *domain.Talk
	Source         Source
	Phase          domain.TransportPhase
	Position       float64
	Duration       float64
	Rate           float64
	Queue          []domain.TalkRow
	QueueIndex     int
	Repeat         RepeatMode
	SleepArmed     bool
	SleepRemaining time.Duration
	Chapters       []domain.Chapter
	Err            string
}

// Options bound the session's tunable behaviour.
type Options struct {
	SkipBackSec    float64
	SkipForwardSec float64
	MinRate        float64
	MaxRate        float64
	ClockInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SkipBackSec <= 0 {
		o.SkipBackSec = 15
	}
	if o.SkipForwardSec <= 0 {
		o.SkipForwardSec = 30
	}
	if o.MinRate <= 0 {
		o.MinRate = 0.5
	}
	if o.MaxRate <= o.MinRate {
		o.MaxRate = 3.0
	}
	if o.ClockInterval <= 0 {
		o.ClockInterval = 250 * time.Millisecond
	}
	return o
}

// Session is the single source of truth for what is playing and how. It is
// constructed once per application session and injected into every consumer;
// there is no package-level shared instance. All mutation is serialized
// behind one mutex, and state changes fan out over a typed event channel.
type Session struct {
	resolver Resolver
	opts     Options

	mu         sync.Mutex
	talk       *domain.Talk
	sources    []Source
	sourceIdx  int
	phase      domain.TransportPhase
	position   float64
	duration   float64
	rate       float64
	queue      []domain.Talk
	queueIndex int
	repeat     RepeatMode
	chapters   []domain.Chapter
	lastErr    string

	sleepTimer    *time.Timer
	sleepDeadline time.Time

	subs    map[int]chan Event
	nextSub int
}

func NewSession(resolver Resolver, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		resolver:   resolver,
		opts:       opts,
		phase:      domain.PhaseStopped,
		rate:       1.0,
		queueIndex: -1,
		subs:       make(map[int]chan Event),
	}
}

// Subscribe registers a typed observer. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
}

// RunClock advances playback position while the phase is playing, until the
// context is cancelled. The session works without a running clock; commands
// remain usable either way.
func (s *Session) RunClock(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ClockInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			s.advancePosition(elapsed)
		}
	}
}

// Load replaces the current talk: position resets to 0, the phase becomes
// stopped, and sources are resolved local-first. The queue is untouched and
// playback is not started implicitly. A talk without any media source is
// rejected before any state changes.
func (s *Session) Load(ctx context.Context, talk domain.Talk) error {
	if !talk.Playable() {
		return ErrNotPlayable
	}

	sources, err := s.resolver.ResolveSources(ctx, talk)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return ErrNotPlayable
	}

	s.mu.Lock()
	loaded := talk
	s.talk = &loaded
	s.sources = sources
	s.sourceIdx = 0
	s.position = 0
	s.duration = talk.DurationSec
	s.phase = domain.PhaseStopped
	s.chapters = nil
	s.lastErr = ""
	s.publishLocked(EventLoaded)
	s.mu.Unlock()
	return nil
}

// Play starts or resumes playback of the loaded talk.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.talk == nil {
		return ErrNothingLoaded
	}
	if s.phase == domain.PhasePlaying {
		return nil
	}
	s.phase = domain.PhasePlaying
	s.lastErr = ""
	s.publishLocked(EventPhase)
	return nil
}

// Pause suspends playback without losing position. A no-op when nothing is
// playing.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhasePlaying {
		return
	}
	s.phase = domain.PhasePaused
	s.publishLocked(EventPhase)
}

// Stop halts playback and rewinds to the start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.talk == nil {
		return
	}
	s.phase = domain.PhaseStopped
	s.position = 0
	s.publishLocked(EventPhase)
}

// Seek moves the position, clamped to [0, duration]. The transport phase is
// unchanged.
func (s *Session) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.talk == nil {
		return ErrNothingLoaded
	}
	s.position = clamp(seconds, 0, s.duration)
	s.publishLocked(EventPosition)
	return nil
}

// SkipBackward seeks back by the canonical 15 second offset.
func (s *Session) SkipBackward() error {
	s.mu.Lock()
	back := s.position - s.opts.SkipBackSec
	s.mu.Unlock()
	return s.Seek(back)
}

// SkipForward seeks ahead by the canonical 30 second offset.
func (s *Session) SkipForward() error {
	s.mu.Lock()
	ahead := s.position + s.opts.SkipForwardSec
	s.mu.Unlock()
	return s.Seek(ahead)
}

// SetRate sets the playback speed, clamped to the configured range. The rate
// persists across talk changes.
func (s *Session) SetRate(rate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate = clamp(rate, s.opts.MinRate, s.opts.MaxRate)
	s.publishLocked(EventRate)
	return s.rate
}

// SetSleepTimer arms a countdown that pauses playback on expiry. Arming (or
// re-arming) never changes the transport phase by itself; minutes <= 0
// cancels instead.
func (s *Session) SetSleepTimer(minutes int) {
	if minutes <= 0 {
		s.CancelSleepTimer()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sleepTimer != nil {
		s.sleepTimer.Stop()
	}
	d := time.Duration(minutes) * time.Minute
	s.sleepDeadline = time.Now().Add(d)
	s.sleepTimer = time.AfterFunc(d, s.sleepExpired)
	s.publishLocked(EventSleepTimer)
}

// CancelSleepTimer disarms the countdown. Idempotent, and never pauses.
func (s *Session) CancelSleepTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sleepTimer == nil {
		return
	}
	s.sleepTimer.Stop()
	s.sleepTimer = nil
	s.sleepDeadline = time.Time{}
	s.publishLocked(EventSleepTimer)
}

func (s *Session) sleepExpired() {
	s.mu.Lock()
	s.sleepTimer = nil
	s.sleepDeadline = time.Time{}
	if s.phase == domain.PhasePlaying {
		s.phase = domain.PhasePaused
		s.publishLocked(EventPhase)
	}
	s.publishLocked(EventSleepTimer)
	s.mu.Unlock()
}

// SetChapters attaches a chapter list to the loaded talk.
func (s *Session) SetChapters(chapters []domain.Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chapters = chapters
	s.publishLocked(EventChapters)
}

// JumpToChapter seeks to the start of the chapter at the given index.
func (s *Session) JumpToChapter(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.chapters) {
		s.mu.Unlock()
		return errors.New("chapter index out of range")
	}
	start := s.chapters[index].StartSec
	s.mu.Unlock()
	return s.Seek(start)
}

// SetRepeat sets the queue advancement mode. Session-scoped; not persisted.
func (s *Session) SetRepeat(mode RepeatMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repeat = mode
	s.publishLocked(EventQueue)
}

// QueueAppend adds a talk to the end of the play queue.
func (s *Session) QueueAppend(talk domain.Talk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, talk)
	if s.queueIndex < 0 {
		s.queueIndex = 0
	}
	s.publishLocked(EventQueue)
}

// QueueRemove drops the queue entry at index, keeping the current-track
// index pointing at the same talk where possible.
func (s *Session) QueueRemove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.queue) {
		return errors.New("queue index out of range")
	}
	s.queue = append(s.queue[:index], s.queue[index+1:]...)
	if index < s.queueIndex {
		s.queueIndex--
	}
	if s.queueIndex >= len(s.queue) {
		s.queueIndex = len(s.queue) - 1
	}
	s.publishLocked(EventQueue)
	return nil
}

// QueueMove reorders the queue, moving the entry at from to position to.
func (s *Session) QueueMove(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from < 0 || from >= len(s.queue) || to < 0 || to >= len(s.queue) {
		return errors.New("queue index out of range")
	}
	if from == to {
		return nil
	}

	moved := s.queue[from]
	current := -1
	if s.queueIndex >= 0 && s.queueIndex < len(s.queue) {
		current = s.queueIndex
	}
	var currentTalk *domain.Talk
	if current >= 0 {
		talk := s.queue[current]
		currentTalk = &talk
	}

	s.queue = append(s.queue[:from], s.queue[from+1:]...)
	rest := append([]domain.Talk{}, s.queue[to:]...)
	s.queue = append(s.queue[:to], moved)
	s.queue = append(s.queue, rest...)

	if currentTalk != nil {
		for i, talk := range s.queue {
			if talk.ID == currentTalk.ID {
				s.queueIndex = i
				break
			}
		}
	}
	s.publishLocked(EventQueue)
	return nil
}

// Next loads and plays the following queue entry.
func (s *Session) Next(ctx context.Context) error {
	return s.stepQueue(ctx, 1)
}

// Previous loads and plays the preceding queue entry.
func (s *Session) Previous(ctx context.Context) error {
	return s.stepQueue(ctx, -1)
}

func (s *Session) stepQueue(ctx context.Context, delta int) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return errors.New("play queue is empty")
	}
	index := s.queueIndex + delta
	if index < 0 || index >= len(s.queue) {
		s.mu.Unlock()
		return errors.New("no more talks in queue")
	}
	talk := s.queue[index]
	s.queueIndex = index
	s.mu.Unlock()

	if err := s.Load(ctx, talk); err != nil {
		return err
	}
	return s.Play()
}

// Retry reloads playback using the next fallback source after an engine
// error, without touching position or the rest of the session state.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.talk == nil {
		return ErrNothingLoaded
	}
	if s.sourceIdx+1 >= len(s.sources) {
		return ErrNoSource
	}
	s.sourceIdx++
	s.lastErr = ""
	s.phase = domain.PhasePlaying
	s.publishLocked(EventPhase)
	return nil
}

// ReportError records a playback engine failure as a retryable error state.
// The session never propagates engine errors as panics across the view
// boundary.
func (s *Session) ReportError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err.Error()
	s.phase = domain.PhaseStopped
	s.publishLocked(EventError)
}

// Snapshot returns the current published view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Phase:      s.phase,
		Position:   s.position,
		Duration:   s.duration,
		Rate:       s.rate,
		QueueIndex: s.queueIndex,
		Repeat:     s.repeat,
		Err:        s.lastErr,
	}
	if s.talk != nil {
		talk := *s.talk
		snapshot.Talk = &talk
		if s.sourceIdx < len(s.sources) {
			snapshot.Source = s.sources[s.sourceIdx]
		}
	}
	if len(s.queue) > 0 {
		snapshot.Queue = make([]domain.TalkRow, len(s.queue))
		for i, talk := range s.queue {
			snapshot.Queue[i] = domain.TalkRow{
				ID:          talk.ID,
				Title:       talk.Title,
				Speaker:     talk.Speaker,
				Series:      talk.Series,
				RecordedAt:  talk.RecordedAt,
				HasRecorded: talk.HasRecorded,
				DurationSec: talk.DurationSec,
			}
		}
	}
	if len(s.chapters) > 0 {
		snapshot.Chapters = append([]domain.Chapter{}, s.chapters...)
	}
	if s.sleepTimer != nil {
		snapshot.SleepArmed = true
		if remaining := time.Until(s.sleepDeadline); remaining > 0 {
			snapshot.SleepRemaining = remaining
		}
	}
	return snapshot
}

// advancePosition moves playback time forward while playing. Position only
// ever grows here; it regresses solely through Seek or Load.
func (s *Session) advancePosition(elapsed time.Duration) {
	s.mu.Lock()
	if s.phase != domain.PhasePlaying || s.talk == nil {
		s.mu.Unlock()
		return
	}

	s.position += elapsed.Seconds() * s.rate
	if s.duration > 0 && s.position >= s.duration {
		s.position = s.duration
		s.publishLocked(EventPosition)
		s.mu.Unlock()
		s.trackEnded()
		return
	}
	s.publishLocked(EventPosition)
	s.mu.Unlock()
}

// trackEnded advances the queue when the current track finishes naturally,
// honoring the repeat mode.
func (s *Session) trackEnded() {
	s.mu.Lock()
	repeat := s.repeat
	index := s.queueIndex
	size := len(s.queue)
	s.mu.Unlock()

	ctx := context.Background()

	switch repeat {
	case RepeatOne:
		s.mu.Lock()
		s.position = 0
		s.publishLocked(EventPosition)
		s.mu.Unlock()
		return
	case RepeatAll:
		if size > 0 && index == size-1 {
			s.mu.Lock()
			s.queueIndex = -1
			s.mu.Unlock()
			if err := s.stepQueue(ctx, 1); err != nil {
				s.ReportError(err)
			}
			return
		}
	}

	if size > 0 && index+1 < size {
		if err := s.stepQueue(ctx, 1); err != nil {
			s.ReportError(err)
		}
		return
	}

	s.mu.Lock()
	s.phase = domain.PhaseStopped
	s.publishLocked(EventPhase)
	s.mu.Unlock()
}

// publishLocked fans the current snapshot out to subscribers. Callers hold
// the mutex; sends never block.
func (s *Session) publishLocked(kind EventKind) {
	if len(s.subs) == 0 {
		return
	}
	event := Event{Kind: kind, State: s.snapshotLocked()}
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if high > low && value > high {
		return high
	}
	return value
}
