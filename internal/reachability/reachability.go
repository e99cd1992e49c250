package reachability

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Monitor polls a probe URL at a fixed interval and tracks whether the
// network looks usable. Consumers read Online for a synchronous answer and
// may subscribe for transitions.
type Monitor struct {
	httpClient *http.Client
	probeURL   string
	interval   time.Duration

	mu      sync.Mutex
	online  bool
	probed  bool
	subs    map[int]chan bool
	nextSub int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(client *http.Client, probeURL string, interval time.Duration) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		httpClient: client,
		probeURL:   probeURL,
		interval:   interval,
		online:     true,
		subs:       make(map[int]chan bool),
	}
}

// Online reports the last probed state. Before the first probe completes the
// monitor assumes the network is up, so startup never blocks on a probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe delivers online/offline transitions. The returned func
// unsubscribes.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 4)
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

// Start begins periodic probing. No-op when no probe URL is configured.
func (m *Monitor) Start() {
	if m.probeURL == "" || m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the prober to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.wg.Wait()

	m.mu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

// ProbeNow runs a single probe synchronously and returns the result.
func (m *Monitor) ProbeNow(ctx context.Context) bool {
	m.probe(ctx)
	return m.Online()
}

func (m *Monitor) probe(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.probeURL, nil)
	if err == nil {
		resp, err := m.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			online = resp.StatusCode < http.StatusInternalServerError
		}
	}

	m.mu.Lock()
	changed := !m.probed || online != m.online
	m.probed = true
	m.online = online
	if changed {
		log.Printf("reachability: online=%v", online)
		for _, ch := range m.subs {
			select {
			case ch <- online:
			default:
			}
		}
	}
	m.mu.Unlock()
}
