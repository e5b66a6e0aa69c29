package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gigfin/internal/log"
)

// SessionPurger deletes sessions that can no longer be used.
type SessionPurger interface {
	PurgeSessions(ctx context.Context) (int64, error)
}

// JanitorConfig holds configuration for the janitor
type JanitorConfig struct {
	// Interval is how often expired sessions are purged (default: 1h)
	Interval time.Duration
}

// DefaultJanitorConfig returns sensible defaults
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{Interval: time.Hour}
}

// Janitor periodically removes expired and revoked sessions.
type Janitor struct {
	purger SessionPurger
	config JanitorConfig
	logger *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewJanitor(purger SessionPurger, config JanitorConfig) *Janitor {
	if config.Interval <= 0 {
		config.Interval = DefaultJanitorConfig().Interval
	}
	return &Janitor{
		purger: purger,
		config: config,
		logger: log.WithComponent(log.ComponentWorker),
	}
}

// Start begins the purge loop. Returns an error if already running.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.runLoop(ctx, j.stopCh, j.doneCh)

	j.logger.InfoContext(ctx, "Janitor started", "interval", j.config.Interval)
	return nil
}

// Stop signals the loop and waits for it to finish or for ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		j.logger.InfoContext(ctx, "Janitor stopped gracefully")
		return nil
	case <-ctx.Done():
		j.logger.WarnContext(ctx, "Janitor stop timed out")
		return ctx.Err()
	}
}

func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Janitor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	// Purge immediately on startup
	j.purge(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.purger.PurgeSessions(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to purge sessions", log.FieldError, err)
		return
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "Purged sessions", "count", n)
	}
}
