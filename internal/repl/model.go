package repl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"talksink/internal/app"
	"talksink/internal/domain"
	"talksink/internal/playback"
	"talksink/internal/theme"
)

// playbackMsg carries a session event into the bubbletea loop.
type playbackMsg playback.Event

// downloadMsg carries a download progress event into the bubbletea loop.
type downloadMsg domain.DownloadProgress

type model struct {
	ctx      context.Context
	app      *app.App
	styles   theme.Theme
	input    textinput.Model
	history  []string
	messages []string
	quitting bool

	nowPlaying playback.Snapshot
	transfers  map[string]domain.DownloadProgress

	playbackCh  <-chan playback.Event
	downloadsCh <-chan domain.DownloadProgress
}

func newModel(ctx context.Context, application *app.App) model {
	ti := textinput.New()
	ti.Placeholder = "list"
	ti.Focus()
	ti.Prompt = "talksink> "
	ti.CharLimit = 512
	ti.Width = 80

	styles := theme.ForName(application.Config().ColorTheme)

	m := model{
		ctx:       ctx,
		app:       application,
		styles:    styles,
		input:     ti,
		history:   make([]string, 0, 32),
		transfers: make(map[string]domain.DownloadProgress),
		messages: []string{
			styles.Message.Render("Talksink ready. Type 'list' to browse talks."),
		},
		nowPlaying: application.Session().Snapshot(),
	}

	m.playbackCh, _ = application.Session().Subscribe()
	if mgr := application.DownloadManager(); mgr != nil {
		m.downloadsCh, _ = mgr.Subscribe()
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForPlayback(m.playbackCh)}
	if m.downloadsCh != nil {
		cmds = append(cmds, waitForDownload(m.downloadsCh))
	}
	return tea.Batch(cmds...)
}

func waitForPlayback(ch <-chan playback.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return playbackMsg(event)
	}
}

func waitForDownload(ch <-chan domain.DownloadProgress) tea.Cmd {
	return func() tea.Msg {
		progress, ok := <-ch
		if !ok {
			return nil
		}
		return downloadMsg(progress)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleSubmit()
		}

	case playbackMsg:
		m.nowPlaying = playback.Event(msg).State
		return m, waitForPlayback(m.playbackCh)

	case downloadMsg:
		progress := domain.DownloadProgress(msg)
		switch progress.Status {
		case domain.DownloadStatusCompleted, domain.DownloadStatusCancelled:
			delete(m.transfers, progress.TalkID)
			if progress.Status == domain.DownloadStatusCompleted {
				m.messages = append(m.messages, m.styles.Downloaded.Render(fmt.Sprintf("Downloaded %s.", progress.TalkID)))
			}
		case domain.DownloadStatusFailed:
			delete(m.transfers, progress.TalkID)
			m.messages = append(m.messages, m.styles.Error.Render(fmt.Sprintf("Download failed for %s: %s", progress.TalkID, progress.Err)))
		default:
			m.transfers[progress.TalkID] = progress
		}
		return m, waitForDownload(m.downloadsCh)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	for _, message := range m.messages {
		b.WriteString(message)
		b.WriteString("\n")
	}

	if status := m.statusLine(); status != "" {
		b.WriteString(status)
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	if !m.quitting {
		b.WriteString("\n")
	}
	return b.String()
}

// statusLine renders the persistent now-playing and transfer summary shown
// above the prompt.
func (m model) statusLine() string {
	var parts []string

	if m.nowPlaying.Talk != nil {
		line := fmt.Sprintf("%s %s [%s/%s]",
			phaseSymbol(m.nowPlaying.Phase),
			m.nowPlaying.Talk.Title,
			formatClock(m.nowPlaying.Position),
			formatClock(m.nowPlaying.Duration))
		if m.nowPlaying.Rate != 1.0 {
			line += fmt.Sprintf(" %.2fx", m.nowPlaying.Rate)
		}
		if m.nowPlaying.SleepArmed {
			line += fmt.Sprintf(" (sleep %s)", formatClock(m.nowPlaying.SleepRemaining.Seconds()))
		}
		style := m.styles.Paused
		if m.nowPlaying.Phase == domain.PhasePlaying {
			style = m.styles.Playing
		}
		parts = append(parts, style.Render(line))
		if m.nowPlaying.Err != "" {
			parts = append(parts, m.styles.Error.Render("playback error: "+m.nowPlaying.Err))
		}
	}

	if len(m.transfers) > 0 {
		var active int
		var sum float64
		for _, progress := range m.transfers {
			if progress.Status == domain.DownloadStatusActive {
				active++
				sum += progress.Fraction
			}
		}
		if active > 0 {
			parts = append(parts, m.styles.Progress.Render(
				fmt.Sprintf("downloading %d (%.0f%%)", active, sum/float64(active)*100)))
		}
	}

	return strings.Join(parts, "  ")
}

func (m model) handleSubmit() (tea.Model, tea.Cmd) {
	command := strings.TrimSpace(m.input.Value())
	if command != "" {
		m.history = append(m.history, command)
	}
	m.input.SetValue("")

	if command == "" {
		return m, nil
	}

	result, err := m.app.Execute(m.ctx, command)
	if err != nil {
		m.messages = append(m.messages, m.styles.Error.Render(err.Error()))
		return m, nil
	}

	if result.Message != "" {
		m.messages = append(m.messages, result.Message)
	}
	if len(result.TalkResults) > 0 {
		m.messages = append(m.messages, m.renderTalks(result.TalkTitle, result.TalkResults))
	}
	if result.QueuedResults != nil {
		m.messages = append(m.messages, m.renderQueue(result.QueuedResults))
	}
	if result.DownloadedResults != nil {
		m.messages = append(m.messages, m.renderDownloaded(result.DownloadedResults, result.DanglingFiles))
	}
	if result.Playback != nil {
		m.nowPlaying = *result.Playback
	}

	if result.Quit {
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m model) renderTalks(title string, results []app.TalkResult) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(m.styles.Header.Render(title))
		b.WriteString("\n")
	}
	for _, r := range results {
		marker := "  "
		if r.Downloaded {
			marker = m.styles.Downloaded.Render("↓ ")
		}
		line := fmt.Sprintf("%s%s  %s", marker, r.Talk.ID, r.Talk.Title)
		if r.Talk.Speaker != "" {
			line += "  " + m.styles.Speaker.Render(r.Talk.Speaker)
		}
		if r.Talk.HasRecorded {
			line += "  " + m.styles.Date.Render(r.Talk.RecordedAt.Format("2006-01-02"))
		}
		if r.HasTranscript {
			line += "  " + m.styles.Dim.Render("[t]")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderQueue(results []app.QueuedTalkResult) string {
	if len(results) == 0 {
		return m.styles.Dim.Render("Download queue is empty.")
	}
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Download Queue"))
	b.WriteString("\n")
	for _, r := range results {
		line := fmt.Sprintf("  %s  %s", r.Talk.ID, r.Talk.Title)
		if r.RetryCount > 0 {
			line += m.styles.Dim.Render(fmt.Sprintf("  (retries: %d)", r.RetryCount))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderDownloaded(records []domain.DownloadedTalk, dangling []app.DanglingFile) string {
	var b strings.Builder
	if len(records) == 0 {
		b.WriteString(m.styles.Dim.Render("No downloaded talks."))
	} else {
		b.WriteString(m.styles.Header.Render("Downloaded Talks"))
		b.WriteString("\n")
		for _, r := range records {
			b.WriteString(fmt.Sprintf("  %s  %s  %s", r.TalkID, r.Title, m.styles.Dim.Render(formatBytes(r.SizeBytes))))
			b.WriteString("\n")
		}
	}
	if len(dangling) > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("%d untracked files in the download root:", len(dangling))))
		b.WriteString("\n")
		for _, f := range dangling {
			b.WriteString(m.styles.Dim.Render(fmt.Sprintf("  %s (%s)", f.Path, formatBytes(f.SizeBytes))))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func phaseSymbol(phase domain.TransportPhase) string {
	switch phase {
	case domain.PhasePlaying:
		return "▶"
	case domain.PhasePaused:
		return "⏸"
	default:
		return "⏹"
	}
}

func formatClock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMG"[exp])
}
