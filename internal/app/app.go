package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"talksink/internal/catalog"
	"talksink/internal/chapters"
	"talksink/internal/config"
	"talksink/internal/domain"
	"talksink/internal/downloads"
	"talksink/internal/esv"
	"talksink/internal/filters"
	"talksink/internal/fuzzy"
	"talksink/internal/library"
	"talksink/internal/manifest"
	"talksink/internal/playback"
	"talksink/internal/reachability"
	"talksink/internal/repository"
	"talksink/internal/sync"
	"talksink/internal/transcripts"
)

type commandHandler func(context.Context, []string) (CommandResult, error)

type command struct {
	usage   string
	summary string
	handler commandHandler
}

type CommandResult struct {
	Message           string
	Quit              bool
	TalkResults       []domain.TalkResult
	TalkTitle         string
	QueuedResults     []domain.QueuedTalkResult
	DownloadedResults []domain.DownloadedTalk
	DanglingFiles     []domain.DanglingFile
	Playback          *playback.Snapshot
}

type TalkResult = domain.TalkResult

type QueuedTalkResult = domain.QueuedTalkResult

type DanglingFile = domain.DanglingFile

type App struct {
	config      config.Config
	configPath  string
	db          *sql.DB
	httpClient  *http.Client
	commands    map[string]*command
	store       *repository.Store
	catalog     *catalog.Client
	esv         *esv.Client
	library     *library.Service
	sync        *sync.Service
	downloads   *downloads.Service
	downloadMgr *downloads.Manager
	transcripts *transcripts.Service
	monitor     *reachability.Monitor
	session     *playback.Session
	filters     filters.TalkSearchFilters
	clockCancel context.CancelFunc
}

type Dependencies struct {
	HTTPClient *http.Client
	Catalog    *catalog.Client
	ESV        *esv.Client
	Sleep      downloads.SleepFunc
}

func New(cfg config.Config, configPath string, db *sql.DB) *App {
	return NewWithDependencies(cfg, configPath, db, Dependencies{})
}

func NewWithDependencies(cfg config.Config, configPath string, db *sql.DB, deps Dependencies) *App {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.TLSVerify},
		}
		if proxyURL := strings.TrimSpace(cfg.Proxy); proxyURL != "" {
			if parsed, err := url.Parse(proxyURL); err == nil {
				transport.Proxy = http.ProxyURL(parsed)
			}
		}
		httpClient = &http.Client{Timeout: 15 * time.Second, Transport: transport}
	}

	catalogClient := deps.Catalog
	if catalogClient == nil {
		catalogClient = catalog.NewClient(httpClient, cfg.CatalogURL)
	}
	esvClient := deps.ESV
	if esvClient == nil {
		esvClient = esv.NewClient(httpClient, cfg.ESVBaseURL, cfg.ESVToken)
	}

	store := repository.New(db)
	monitor := reachability.NewMonitor(httpClient, cfg.ProbeURL, time.Duration(cfg.ProbeIntervalSec)*time.Second)
	librarySvc := library.NewService(store, monitor)
	syncSvc := sync.NewService(catalogClient, store, cfg.MaxTalks)
	downloadsSvc := downloads.NewService(cfg, store, httpClient, deps.Sleep)
	transcriptsSvc := transcripts.NewService(store, httpClient, cfg.TranscriberURL)

	session := playback.NewSession(librarySvc, playback.Options{
		SkipBackSec:    cfg.SkipBackSec,
		SkipForwardSec: cfg.SkipForwardSec,
		MinRate:        cfg.MinPlaybackRate,
		MaxRate:        cfg.MaxPlaybackRate,
	})

	application := &App{
		config:      cfg,
		configPath:  configPath,
		db:          db,
		httpClient:  httpClient,
		commands:    make(map[string]*command),
		store:       store,
		catalog:     catalogClient,
		esv:         esvClient,
		library:     librarySvc,
		sync:        syncSvc,
		downloads:   downloadsSvc,
		transcripts: transcriptsSvc,
		monitor:     monitor,
		session:     session,
		filters:     filters.New(),
	}
	application.registerCommands()

	workers := cfg.ParallelDownloads
	if workers < 0 {
		workers = 0
	}
	if workers > 0 {
		application.downloadMgr = downloads.NewManager(downloadsSvc, store, librarySvc, workers)
	}

	return application
}

func (a *App) Config() config.Config {
	return a.config
}

func (a *App) Session() *playback.Session {
	return a.session
}

func (a *App) DownloadManager() *downloads.Manager {
	return a.downloadMgr
}

func (a *App) Filters() filters.TalkSearchFilters {
	return a.filters.Clone()
}

func (a *App) CommandNames() []string {
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize reconciles local state at startup: missing files are pruned
// from the downloaded set and the download cache is rebuilt, then the
// reachability probe and playback clock begin.
func (a *App) Initialize(ctx context.Context) error {
	if a.downloadMgr != nil {
		if err := a.downloadMgr.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile downloads: %w", err)
		}
		a.downloadMgr.Notify()
	}
	a.monitor.Start()

	clockCtx, cancel := context.WithCancel(context.Background())
	a.clockCancel = cancel
	go a.session.RunClock(clockCtx)
	return nil
}

func (a *App) Close() error {
	if a.clockCancel != nil {
		a.clockCancel()
	}
	a.monitor.Stop()
	if a.downloadMgr != nil {
		a.downloadMgr.Stop()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) Execute(ctx context.Context, input string) (CommandResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return CommandResult{}, nil
	}

	args, err := shellquote.Split(input)
	if err != nil {
		return CommandResult{}, err
	}
	if len(args) == 0 {
		return CommandResult{}, nil
	}

	cmdName := strings.ToLower(args[0])
	cmd, ok := a.commands[cmdName]
	if !ok {
		return CommandResult{Message: fmt.Sprintf("unknown command: %s", args[0])}, nil
	}

	return cmd.handler(ctx, args[1:])
}

func (a *App) registerCommands() {
	a.registerCommand("config", "config [show]", "View or edit application configuration", a.configCommand)
	a.registerCommand("exit", "exit", "Exit the application", a.exitCommand, "quit")
	a.registerCommand("sync", "sync", "Refresh the talk catalog from the remote archive", a.syncCommand)
	a.registerCommand("list", "list [query]", "List talks matching the active filters", a.listCommand, "ls")
	a.registerCommand("search", "search <query>", "Search talks by title, speaker, or series", a.searchCommand, "s")
	a.registerCommand("filter", "filter select|deselect|clear|show|options ...", "Manage search facet filters", a.filterCommand, "f")
	a.registerCommand("play", "play [talk_id]", "Load a talk and start playback, or resume", a.playCommand, "p", "resume")
	a.registerCommand("pause", "pause", "Pause playback", a.pauseCommand)
	a.registerCommand("stop", "stop", "Stop playback and rewind", a.stopCommand)
	a.registerCommand("seek", "seek <seconds|mm:ss>", "Seek to a position", a.seekCommand)
	a.registerCommand("skip", "skip back|forward", "Skip by the standard offsets", a.skipCommand)
	a.registerCommand("speed", "speed [rate]", "Show or set the playback rate", a.speedCommand)
	a.registerCommand("sleep", "sleep <minutes>|cancel", "Arm or cancel the sleep timer", a.sleepCommand)
	a.registerCommand("repeat", "repeat off|all|one", "Set the queue repeat mode", a.repeatCommand)
	a.registerCommand("chapters", "chapters", "List chapters for the loaded talk", a.chaptersCommand)
	a.registerCommand("chapter", "chapter <number>", "Jump to a chapter", a.chapterCommand)
	a.registerCommand("next", "next", "Play the next talk in the queue", a.nextCommand, "n")
	a.registerCommand("prev", "prev", "Play the previous talk in the queue", a.prevCommand)
	a.registerCommand("enqueue", "enqueue <talk_id>", "Append a talk to the play queue", a.enqueueCommand)
	a.registerCommand("download", "download <talk_id>|all", "Download a talk, or everything matching the filters", a.downloadCommand, "dl")
	a.registerCommand("cancel", "cancel <talk_id>", "Cancel a pending or active download", a.cancelCommand)
	a.registerCommand("delete", "delete <talk_id>", "Delete a downloaded talk from disk", a.deleteCommand)
	a.registerCommand("queue", "queue", "View the download queue", a.queueCommand, "q")
	a.registerCommand("downloads", "downloads", "View downloaded talks", a.downloadsCommand, "d")
	a.registerCommand("transcribe", "transcribe <talk_id>", "Transcribe a downloaded talk", a.transcribeCommand)
	a.registerCommand("transcript", "transcript <talk_id>", "Show a stored transcript", a.transcriptCommand)
	a.registerCommand("passage", "passage <talk_id|reference>", "Show scripture text for a talk or reference", a.passageCommand)
	a.registerCommand("status", "status", "Show playback and download status", a.statusCommand, "st")
	a.registerCommand("offline", "offline", "Show network reachability", a.offlineCommand)
	a.registerCommand("export", "export <file>", "Export the downloaded library manifest", a.exportCommand)
	a.registerCommand("import", "import <file>", "Import a downloaded library manifest", a.importCommand)
	a.registerCommand("retry", "retry", "Retry playback with the next source", a.retryCommand)
	a.registerCommand("help", "help", "List available commands", a.helpCommand, "h", "?")
}

func (a *App) helpCommand(_ context.Context, _ []string) (CommandResult, error) {
	seen := make(map[*command]struct{})
	var entries []*command
	for _, name := range a.CommandNames() {
		cmd := a.commands[name]
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		entries = append(entries, cmd)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].usage < entries[j].usage })

	var b strings.Builder
	for _, cmd := range entries {
		fmt.Fprintf(&b, "%-45s %s\n", cmd.usage, cmd.summary)
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (a *App) registerCommand(name, usage, summary string, handler commandHandler, aliases ...string) {
	cmd := &command{usage: usage, summary: summary, handler: handler}
	names := append([]string{name}, aliases...)
	for _, alias := range names {
		a.commands[alias] = cmd
	}
}

func (a *App) configCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: "Usage: config [show]"}, nil
	}
	switch strings.ToLower(args[0]) {
	case "show":
		data, err := yaml.Marshal(a.config)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Message: string(data)}, nil
	default:
		return a.editConfig(ctx)
	}
}

func (a *App) editConfig(ctx context.Context) (CommandResult, error) {
	updated, err := config.EditInteractive(ctx, a.config)
	if err != nil {
		return CommandResult{}, err
	}
	if err := config.Save(a.configPath, updated); err != nil {
		return CommandResult{}, err
	}
	a.config = updated
	log.Println("configuration updated")
	return CommandResult{Message: "Configuration saved."}, nil
}

func (a *App) exitCommand(_ context.Context, _ []string) (CommandResult, error) {
	return CommandResult{Quit: true}, nil
}

func (a *App) syncCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: sync"}, nil
	}
	if !a.monitor.Online() {
		return CommandResult{Message: "Offline. Catalog refresh needs a network connection."}, nil
	}

	result, err := a.sync.Refresh(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Catalog refreshed: %d talks, %d new.", result.Fetched, result.Added)}, nil
}

func (a *App) listCommand(ctx context.Context, args []string) (CommandResult, error) {
	active := a.filters.Clone()
	if len(args) > 0 {
		active.Query = strings.Join(args, " ")
	}

	results, err := a.library.ListTalks(ctx, active)
	if err != nil {
		return CommandResult{}, err
	}
	if len(results) == 0 {
		return CommandResult{Message: "No talks found."}, nil
	}

	title := "Talks"
	if !active.IsZero() {
		title = "Talks (filtered)"
	}
	if !a.monitor.Online() {
		title += " [offline]"
	}
	return CommandResult{TalkResults: results, TalkTitle: title}, nil
}

func (a *App) searchCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: "Usage: search <query>"}, nil
	}
	term := strings.Join(args, " ")

	active := a.filters.Clone()
	active.Query = term
	results, err := a.library.ListTalks(ctx, active)
	if err != nil {
		return CommandResult{}, err
	}

	// LIKE matching misses typos, so widen with a fuzzy pass over the
	// unfiltered result when nothing matched directly.
	if len(results) == 0 {
		broad := a.filters.Clone()
		broad.Query = ""
		all, err := a.library.ListTalks(ctx, broad)
		if err != nil {
			return CommandResult{}, err
		}
		for _, r := range all {
			if fuzzy.Match(r.Talk.Title, term) || fuzzy.Match(r.Talk.Speaker, term) || fuzzy.Match(r.Talk.Series, term) {
				results = append(results, r)
			}
		}
		sort.SliceStable(results, func(i, j int) bool {
			return fuzzy.Score(results[i].Talk.Title, term) > fuzzy.Score(results[j].Talk.Title, term)
		})
	}

	if len(results) == 0 {
		return CommandResult{Message: "No talks found."}, nil
	}
	return CommandResult{TalkResults: results, TalkTitle: fmt.Sprintf("Search: %s", term)}, nil
}

func (a *App) filterCommand(ctx context.Context, args []string) (CommandResult, error) {
	usage := "Usage: filter select|deselect <facet> <option> | filter clear [facet] | filter show | filter options <facet> | filter transcript|downloaded yes|no|any | filter from|to <date>"
	if len(args) == 0 {
		return CommandResult{Message: usage}, nil
	}

	switch strings.ToLower(args[0]) {
	case "show":
		return CommandResult{Message: a.describeFilters()}, nil

	case "select", "deselect":
		if len(args) < 3 {
			return CommandResult{Message: usage}, nil
		}
		facet, ok := filters.ParseFacet(args[1])
		if !ok {
			return CommandResult{Message: fmt.Sprintf("unknown facet: %s", args[1])}, nil
		}
		option := strings.Join(args[2:], " ")
		if strings.ToLower(args[0]) == "select" {
			a.filters.Select(facet, option)
			return CommandResult{Message: fmt.Sprintf("Selected %s: %s", facet, option)}, nil
		}
		a.filters.Deselect(facet, option)
		return CommandResult{Message: fmt.Sprintf("Deselected %s: %s", facet, option)}, nil

	case "clear":
		if len(args) == 1 {
			a.filters.Clear()
			return CommandResult{Message: "All filters cleared."}, nil
		}
		facet, ok := filters.ParseFacet(args[1])
		if !ok {
			return CommandResult{Message: fmt.Sprintf("unknown facet: %s", args[1])}, nil
		}
		a.filters.ClearFacet(facet)
		return CommandResult{Message: fmt.Sprintf("Cleared facet %s.", facet)}, nil

	case "options":
		if len(args) != 2 {
			return CommandResult{Message: "Usage: filter options <facet>"}, nil
		}
		facet, ok := filters.ParseFacet(args[1])
		if !ok {
			return CommandResult{Message: fmt.Sprintf("unknown facet: %s", args[1])}, nil
		}
		options, err := a.library.FacetOptions(ctx, facet)
		if err != nil {
			return CommandResult{}, err
		}
		if len(options) == 0 {
			return CommandResult{Message: "No options available."}, nil
		}
		return CommandResult{Message: strings.Join(options, "\n")}, nil

	case "transcript", "downloaded":
		if len(args) != 2 {
			return CommandResult{Message: usage}, nil
		}
		state, ok := filters.ParseTriState(args[1])
		if !ok {
			return CommandResult{Message: "Expected yes, no, or any."}, nil
		}
		if strings.ToLower(args[0]) == "transcript" {
			a.filters.HasTranscript = state
		} else {
			a.filters.IsDownloaded = state
		}
		return CommandResult{Message: fmt.Sprintf("Filter %s = %s.", args[0], state)}, nil

	case "from", "to":
		if len(args) != 2 {
			return CommandResult{Message: usage}, nil
		}
		if strings.ToLower(args[1]) == "any" {
			if strings.ToLower(args[0]) == "from" {
				a.filters.FromDate = nil
			} else {
				a.filters.ToDate = nil
			}
			return CommandResult{Message: fmt.Sprintf("Cleared %s date.", args[0])}, nil
		}
		parsed, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			return CommandResult{Message: "Expected a date like 2020-01-31."}, nil
		}
		if strings.ToLower(args[0]) == "from" {
			a.filters.FromDate = &parsed
		} else {
			a.filters.ToDate = &parsed
		}
		return CommandResult{Message: fmt.Sprintf("Filter %s = %s.", args[0], args[1])}, nil

	default:
		return CommandResult{Message: usage}, nil
	}
}

func (a *App) describeFilters() string {
	if a.filters.IsZero() {
		return "No filters active."
	}

	var lines []string
	if a.filters.Query != "" {
		lines = append(lines, fmt.Sprintf("query: %s", a.filters.Query))
	}
	for _, facet := range a.filters.ActiveFacets() {
		lines = append(lines, fmt.Sprintf("%s: %s", facet, strings.Join(a.filters.Selected(facet), ", ")))
	}
	if a.filters.FromDate != nil {
		lines = append(lines, fmt.Sprintf("from: %s", a.filters.FromDate.Format("2006-01-02")))
	}
	if a.filters.ToDate != nil {
		lines = append(lines, fmt.Sprintf("to: %s", a.filters.ToDate.Format("2006-01-02")))
	}
	if a.filters.HasTranscript != filters.TriUnset {
		lines = append(lines, fmt.Sprintf("transcript: %s", a.filters.HasTranscript))
	}
	if a.filters.IsDownloaded != filters.TriUnset {
		lines = append(lines, fmt.Sprintf("downloaded: %s", a.filters.IsDownloaded))
	}
	return strings.Join(lines, "\n")
}

func (a *App) playCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		if err := a.session.Play(); err != nil {
			if errors.Is(err, playback.ErrNothingLoaded) {
				return CommandResult{Message: "Nothing loaded. Use play <talk_id>."}, nil
			}
			return CommandResult{}, err
		}
		return a.playbackStatus(), nil
	}

	talkID := strings.TrimSpace(args[0])
	talk, err := a.library.GetTalk(ctx, talkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommandResult{Message: "Talk not found."}, nil
		}
		return CommandResult{}, err
	}

	if err := a.session.Load(ctx, talk); err != nil {
		if errors.Is(err, playback.ErrNotPlayable) {
			return CommandResult{Message: "Talk has no audio or video source."}, nil
		}
		return CommandResult{}, err
	}
	if err := a.session.Play(); err != nil {
		return CommandResult{}, err
	}

	if chaptersURL := strings.TrimSpace(talk.ChaptersURL); chaptersURL != "" {
		if list, err := chapters.Fetch(ctx, a.httpClient, chaptersURL); err == nil {
			a.session.SetChapters(list)
		} else {
			log.Printf("app: fetch chapters for %s: %v", talk.ID, err)
		}
	}
	return a.playbackStatus(), nil
}

func (a *App) pauseCommand(_ context.Context, _ []string) (CommandResult, error) {
	a.session.Pause()
	return a.playbackStatus(), nil
}

func (a *App) stopCommand(_ context.Context, _ []string) (CommandResult, error) {
	a.session.Stop()
	return CommandResult{Message: "Stopped."}, nil
}

func (a *App) seekCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: seek <seconds|mm:ss>"}, nil
	}
	seconds, err := chapters.ParseTimestamp(args[0])
	if err != nil {
		return CommandResult{Message: "Expected seconds or a mm:ss timestamp."}, nil
	}
	if err := a.session.Seek(seconds); err != nil {
		if errors.Is(err, playback.ErrNothingLoaded) {
			return CommandResult{Message: "Nothing loaded."}, nil
		}
		return CommandResult{}, err
	}
	return a.playbackStatus(), nil
}

func (a *App) skipCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: skip back|forward"}, nil
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "back", "b":
		err = a.session.SkipBackward()
	case "forward", "f":
		err = a.session.SkipForward()
	default:
		return CommandResult{Message: "Usage: skip back|forward"}, nil
	}
	if err != nil {
		if errors.Is(err, playback.ErrNothingLoaded) {
			return CommandResult{Message: "Nothing loaded."}, nil
		}
		return CommandResult{}, err
	}
	return a.playbackStatus(), nil
}

func (a *App) speedCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: fmt.Sprintf("Playback rate: %.2fx", a.session.Snapshot().Rate)}, nil
	}
	rate, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return CommandResult{Message: "Expected a rate like 1.5."}, nil
	}
	applied := a.session.SetRate(rate)
	return CommandResult{Message: fmt.Sprintf("Playback rate: %.2fx", applied)}, nil
}

func (a *App) sleepCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		snapshot := a.session.Snapshot()
		if snapshot.SleepArmed {
			return CommandResult{Message: fmt.Sprintf("Sleep timer: %s remaining.", formatDuration(snapshot.SleepRemaining))}, nil
		}
		return CommandResult{Message: "Usage: sleep <minutes>|cancel"}, nil
	}

	if strings.ToLower(args[0]) == "cancel" {
		a.session.CancelSleepTimer()
		return CommandResult{Message: "Sleep timer cancelled."}, nil
	}

	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes <= 0 {
		return CommandResult{Message: "Expected a positive number of minutes."}, nil
	}
	a.session.SetSleepTimer(minutes)
	return CommandResult{Message: fmt.Sprintf("Sleep timer set for %d minutes.", minutes)}, nil
}

func (a *App) repeatCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: repeat off|all|one"}, nil
	}
	switch strings.ToLower(args[0]) {
	case "off":
		a.session.SetRepeat(playback.RepeatOff)
	case "all":
		a.session.SetRepeat(playback.RepeatAll)
	case "one":
		a.session.SetRepeat(playback.RepeatOne)
	default:
		return CommandResult{Message: "Usage: repeat off|all|one"}, nil
	}
	return CommandResult{Message: fmt.Sprintf("Repeat mode: %s.", strings.ToLower(args[0]))}, nil
}

func (a *App) chaptersCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: chapters"}, nil
	}

	snapshot := a.session.Snapshot()
	if snapshot.Talk == nil {
		return CommandResult{Message: "Nothing loaded."}, nil
	}
	if len(snapshot.Chapters) == 0 {
		return CommandResult{Message: "No chapters for this talk."}, nil
	}

	var lines []string
	for i, chapter := range snapshot.Chapters {
		lines = append(lines, fmt.Sprintf("%2d. [%s] %s", i+1, formatSeconds(chapter.StartSec), chapter.Title))
	}
	return CommandResult{Message: strings.Join(lines, "\n")}, nil
}

func (a *App) chapterCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: chapter <number>"}, nil
	}
	number, err := strconv.Atoi(args[0])
	if err != nil || number < 1 {
		return CommandResult{Message: "Expected a chapter number."}, nil
	}
	if err := a.session.JumpToChapter(number - 1); err != nil {
		return CommandResult{Message: "No such chapter."}, nil
	}
	return a.playbackStatus(), nil
}

func (a *App) nextCommand(ctx context.Context, _ []string) (CommandResult, error) {
	if err := a.session.Next(ctx); err != nil {
		return CommandResult{Message: err.Error()}, nil
	}
	return a.playbackStatus(), nil
}

func (a *App) prevCommand(ctx context.Context, _ []string) (CommandResult, error) {
	if err := a.session.Previous(ctx); err != nil {
		return CommandResult{Message: err.Error()}, nil
	}
	return a.playbackStatus(), nil
}

func (a *App) enqueueCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: enqueue <talk_id>"}, nil
	}
	talk, err := a.library.GetTalk(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommandResult{Message: "Talk not found."}, nil
		}
		return CommandResult{}, err
	}
	a.session.QueueAppend(talk)
	return CommandResult{Message: fmt.Sprintf("Queued %s.", talk.Title)}, nil
}

func (a *App) retryCommand(_ context.Context, _ []string) (CommandResult, error) {
	if err := a.session.Retry(); err != nil {
		switch {
		case errors.Is(err, playback.ErrNothingLoaded):
			return CommandResult{Message: "Nothing loaded."}, nil
		case errors.Is(err, playback.ErrNoSource):
			return CommandResult{Message: "No alternate source to retry."}, nil
		}
		return CommandResult{}, err
	}
	return a.playbackStatus(), nil
}

func (a *App) downloadCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: download <talk_id>|all"}, nil
	}
	if a.downloadMgr == nil {
		return CommandResult{Message: "Downloads are disabled (parallel_downloads = 0)."}, nil
	}

	if strings.ToLower(args[0]) == "all" {
		results, err := a.library.ListTalks(ctx, a.filters.Clone())
		if err != nil {
			return CommandResult{}, err
		}
		talks := make([]domain.Talk, 0, len(results))
		for _, r := range results {
			talk, err := a.library.GetTalk(ctx, r.Talk.ID)
			if err != nil {
				continue
			}
			talks = append(talks, talk)
		}
		issued := a.downloadMgr.RequestAll(ctx, talks)
		return CommandResult{Message: fmt.Sprintf("Queued %d of %d talks for download.", issued, len(talks))}, nil
	}

	talk, err := a.library.GetTalk(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommandResult{Message: "Talk not found."}, nil
		}
		return CommandResult{}, err
	}

	if err := a.downloadMgr.Request(ctx, talk); err != nil {
		switch {
		case errors.Is(err, downloads.ErrNotDownloadable):
			return CommandResult{Message: "Talk has no downloadable audio."}, nil
		case errors.Is(err, downloads.ErrDownloadInProgress):
			return CommandResult{Message: "Download already in progress."}, nil
		}
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Queued %s for download.", talk.Title)}, nil
}

func (a *App) cancelCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: cancel <talk_id>"}, nil
	}
	if a.downloadMgr == nil {
		return CommandResult{Message: "Downloads are disabled."}, nil
	}
	if err := a.downloadMgr.Cancel(ctx, strings.TrimSpace(args[0])); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: "Download cancelled."}, nil
}

func (a *App) deleteCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: delete <talk_id>"}, nil
	}
	if a.downloadMgr == nil {
		return CommandResult{Message: "Downloads are disabled."}, nil
	}
	if err := a.downloadMgr.Delete(ctx, strings.TrimSpace(args[0])); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: "Downloaded talk deleted."}, nil
}

func (a *App) queueCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: queue"}, nil
	}
	queued, err := a.store.ListQueued(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	// Empty results still activate the queue view.
	return CommandResult{QueuedResults: queued}, nil
}

func (a *App) downloadsCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: downloads"}, nil
	}

	if a.downloadMgr != nil {
		if err := a.downloadMgr.Reconcile(ctx); err != nil {
			return CommandResult{}, err
		}
	}

	downloaded, err := a.library.ListDownloaded(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	dangling, err := a.library.DanglingFiles(ctx, a.config.DownloadRoot)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{DownloadedResults: downloaded, DanglingFiles: dangling}, nil
}

func (a *App) transcribeCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: transcribe <talk_id>"}, nil
	}
	if !a.transcripts.Enabled() {
		return CommandResult{Message: "Transcriber endpoint is not configured."}, nil
	}

	talkID := strings.TrimSpace(args[0])
	transcript, err := a.transcripts.Transcribe(ctx, talkID, nil)
	if err != nil {
		if errors.Is(err, transcripts.ErrNotDownloaded) {
			return CommandResult{Message: "Download the talk before transcribing it."}, nil
		}
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Transcribed %s (%d characters).", talkID, len(transcript.Text))}, nil
}

func (a *App) transcriptCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: transcript <talk_id>"}, nil
	}
	transcript, err := a.transcripts.Get(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommandResult{Message: "No transcript stored for that talk."}, nil
		}
		return CommandResult{}, err
	}
	return CommandResult{Message: transcript.Text}, nil
}

func (a *App) passageCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: "Usage: passage <talk_id|reference>"}, nil
	}
	if !a.monitor.Online() {
		return CommandResult{Message: "Offline. Passage lookup needs a network connection."}, nil
	}

	reference := strings.Join(args, " ")
	if len(args) == 1 {
		if talk, err := a.library.GetTalk(ctx, args[0]); err == nil {
			if scripture := strings.TrimSpace(talk.Scripture); scripture != "" {
				reference = scripture
			}
		}
	}

	passage, err := a.esv.Lookup(ctx, reference)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("%s\n\n%s", passage.Reference, passage.Text)}, nil
}

func (a *App) statusCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: status"}, nil
	}

	var lines []string
	snapshot := a.session.Snapshot()
	if snapshot.Talk == nil {
		lines = append(lines, "Nothing loaded.")
	} else {
		lines = append(lines, fmt.Sprintf("%s: %s (%s / %s, %.2fx)",
			snapshot.Phase, snapshot.Talk.Title,
			formatSeconds(snapshot.Position), formatSeconds(snapshot.Duration), snapshot.Rate))
		if snapshot.SleepArmed {
			lines = append(lines, fmt.Sprintf("Sleep timer: %s remaining.", formatDuration(snapshot.SleepRemaining)))
		}
		if snapshot.Err != "" {
			lines = append(lines, fmt.Sprintf("Playback error: %s (retry available)", snapshot.Err))
		}
	}

	queued, err := a.store.CountQueued(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	downloaded, err := a.store.CountDownloaded(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	active := 0
	if a.downloadMgr != nil {
		active = a.downloadMgr.ActiveCount()
	}
	lines = append(lines, fmt.Sprintf("Downloads: %d active, %d queued, %d on disk.", active, queued, downloaded))

	if !a.monitor.Online() {
		lines = append(lines, "Network: offline.")
	}

	result := a.playbackStatus()
	result.Message = strings.Join(lines, "\n")
	return result, nil
}

func (a *App) offlineCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: offline"}, nil
	}
	if a.monitor.ProbeNow(ctx) {
		return CommandResult{Message: "Network: online."}, nil
	}
	return CommandResult{Message: "Network: offline. Listings fall back to downloaded talks."}, nil
}

func (a *App) exportCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: export <file>"}, nil
	}
	count, err := a.ExportManifest(ctx, args[0])
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Exported %d downloaded talks.", count)}, nil
}

func (a *App) importCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: import <file>"}, nil
	}
	imported, skipped, err := a.ImportManifest(ctx, args[0])
	if err != nil {
		return CommandResult{}, err
	}
	msg := fmt.Sprintf("Imported %d downloaded talks", imported)
	if skipped > 0 {
		msg += fmt.Sprintf(", skipped %d with missing files", skipped)
	}
	return CommandResult{Message: msg + "."}, nil
}

// ExportManifest writes the downloaded-library manifest to a file.
func (a *App) ExportManifest(ctx context.Context, filePath string) (int, error) {
	records, err := a.library.ListDownloaded(ctx)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if err := manifest.Export(file, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ImportManifest restores downloaded-talk records from a manifest file.
// Entries whose file no longer exists on disk are skipped.
func (a *App) ImportManifest(ctx context.Context, filePath string) (int, int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	records, err := manifest.Import(file)
	if err != nil {
		return 0, 0, err
	}

	imported, skipped := 0, 0
	for _, record := range records {
		if _, err := os.Stat(record.FilePath); err != nil {
			skipped++
			continue
		}
		if err := a.store.SaveDownloadedRecord(ctx, record); err != nil {
			return imported, skipped, err
		}
		imported++
	}

	if a.downloadMgr != nil {
		if err := a.downloadMgr.Reconcile(ctx); err != nil {
			return imported, skipped, err
		}
	}
	return imported, skipped, nil
}

func (a *App) playbackStatus() CommandResult {
	snapshot := a.session.Snapshot()
	return CommandResult{Playback: &snapshot}
}

func formatSeconds(seconds float64) string {
	return formatDuration(time.Duration(seconds * float64(time.Second)))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
