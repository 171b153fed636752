// Package health drives periodic liveness checks and reconnection with
// exponential backoff for every configured endpoint.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const initialBackoff = 1 * time.Second

// Prober is the subset of *supervisor.Supervisor the health loop needs.
// Defined on the consumer side so tests can substitute a fake.
type Prober interface {
	Endpoints() []string
	Ping(ctx context.Context, url string, timeout time.Duration) bool
	Reconnect(ctx context.Context, url string) bool
	OnChildExit(fn func(url string))
}

// Loop owns the ticker, per-endpoint backoff state, and pending reconnect
// timers driving periodic liveness checks and exponential-backoff
// reconnection.
type Loop struct {
	log          *slog.Logger
	prober       Prober
	pingInterval time.Duration
	pingTimeout  time.Duration
	maxBackoff   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	backoffMu sync.Mutex
	backoff   map[string]time.Duration
	pending   map[string]*time.Timer
}

// Config configures a Loop.
type Config struct {
	PingInterval       time.Duration
	PingTimeout        time.Duration
	MaxReconnectBackoff time.Duration
}

// New creates a Loop bound to prober. It registers itself as prober's
// child-exit callback, so constructing a Loop and calling Start is enough
// to wire the immediate-exit reconnect path. log may be nil.
func New(prober Prober, cfg Config, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		log:          log,
		prober:       prober,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
		maxBackoff:   cfg.MaxReconnectBackoff,
		backoff:      make(map[string]time.Duration),
		pending:      make(map[string]*time.Timer),
	}
	prober.OnChildExit(l.onChildExit)
	return l
}

// Start begins the ticker. Repeated calls are no-ops.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stopCh, l.done)
}

// Stop cancels the ticker and all pending reconnect timers, and clears all
// backoff state. Repeated calls are no-ops.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopCh := l.stopCh
	done := l.done
	l.mu.Unlock()

	close(stopCh)
	<-done

	l.backoffMu.Lock()
	for url, timer := range l.pending {
		timer.Stop()
		delete(l.pending, url)
	}
	l.backoff = make(map[string]time.Duration)
	l.backoffMu.Unlock()
}

// Running reports whether the loop is currently ticking.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			l.tick(stopCh)
		}
	}
}

func (l *Loop) tick(stopCh chan struct{}) {
	for _, url := range l.prober.Endpoints() {
		select {
		case <-stopCh:
			return
		default:
		}

		ctx := context.Background()
		ok := l.prober.Ping(ctx, url, l.pingTimeout)
		if ok {
			l.clearBackoff(url)
			continue
		}
		l.scheduleReconnect(url, stopCh)
	}
}

func (l *Loop) onChildExit(url string) {
	l.mu.Lock()
	running := l.running
	stopCh := l.stopCh
	l.mu.Unlock()
	if !running {
		return
	}
	l.log.Warn("health: immediate reconnect on child exit", "url", url)
	l.scheduleImmediate(url, stopCh)
}

// scheduleReconnect arms a backoff-delayed timer for url if one is not
// already pending; calling it again for an endpoint with a timer already
// in flight is a no-op.
func (l *Loop) scheduleReconnect(url string, stopCh chan struct{}) {
	l.backoffMu.Lock()
	defer l.backoffMu.Unlock()

	if _, exists := l.pending[url]; exists {
		return
	}
	delay, ok := l.backoff[url]
	if !ok {
		delay = initialBackoff
	}
	l.armTimer(url, delay, stopCh)
}

// scheduleImmediate arms a zero-delay reconnect, bypassing the normal
// backoff cadence; a reconnect timer already pending for url is stopped and
// replaced.
func (l *Loop) scheduleImmediate(url string, stopCh chan struct{}) {
	l.backoffMu.Lock()
	defer l.backoffMu.Unlock()

	if existing, exists := l.pending[url]; exists {
		existing.Stop()
		delete(l.pending, url)
	}
	l.armTimer(url, 0, stopCh)
}

// armTimer must be called with backoffMu held.
func (l *Loop) armTimer(url string, delay time.Duration, stopCh chan struct{}) {
	l.pending[url] = time.AfterFunc(delay, func() {
		l.fireReconnect(url, stopCh)
	})
}

func (l *Loop) fireReconnect(url string, stopCh chan struct{}) {
	l.backoffMu.Lock()
	delete(l.pending, url)
	l.backoffMu.Unlock()

	select {
	case <-stopCh:
		return
	default:
	}

	if !l.Running() {
		return
	}

	ok := l.prober.Reconnect(context.Background(), url)

	if ok {
		l.clearBackoff(url)
		return
	}

	l.backoffMu.Lock()
	next := l.backoff[url]
	if next == 0 {
		next = initialBackoff
	}
	next *= 2
	if next > l.maxBackoff {
		next = l.maxBackoff
	}
	l.backoff[url] = next
	l.backoffMu.Unlock()

	l.scheduleReconnect(url, stopCh)
}

func (l *Loop) clearBackoff(url string) {
	l.backoffMu.Lock()
	delete(l.backoff, url)
	l.backoffMu.Unlock()
}
