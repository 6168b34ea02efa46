package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ramp/internal/config"
	"ramp/internal/logging"
	"ramp/internal/pipeline"
	"ramp/internal/queue"
	"ramp/internal/services"
)

// Manager runs the daemon's processing loops: it polls the store for
// runnable items, dispatches them to a bounded worker pool, and reclaims
// items whose workers went silent.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	engine *pipeline.Engine
	logger *slog.Logger

	pollInterval     time.Duration
	errorRetry       time.Duration
	reclaimInterval  time.Duration
	heartbeatTimeout time.Duration
	workers          int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]struct{}
}

// PipelineConfig converts the daemon configuration into engine settings.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		StageTimeout:      time.Duration(cfg.Pipeline.StageTimeout) * time.Second,
		RetryBackoff:      time.Duration(cfg.Pipeline.RetryBackoff) * time.Millisecond,
		RetryBackoffMax:   time.Duration(cfg.Pipeline.RetryBackoffMax) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, engine *pipeline.Engine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:              cfg,
		store:            store,
		engine:           engine,
		logger:           logger,
		pollInterval:     time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetry:       time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		reclaimInterval:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		heartbeatTimeout: time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		workers:          workers,
		inflight:         make(map[string]struct{}),
	}
}

// Start launches the polling and reclaim loops. It returns immediately; use
// Stop to shut the loops down and wait for in-flight items.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go m.pollLoop(runCtx)
	go m.reclaimLoop(runCtx)

	m.logger.Info("workflow manager started",
		logging.String(logging.FieldComponent, "workflow"),
		logging.Int("workers", m.workers),
	)
	return nil
}

// Stop halts the loops and blocks until every dispatched item has settled.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow manager stopped",
		logging.String(logging.FieldComponent, "workflow"),
	)
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	sem := make(chan struct{}, m.workers)
	interval := m.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.dispatchRunnable(ctx, sem); err != nil && ctx.Err() == nil {
			m.logger.Error("queue poll failed",
				logging.String(logging.FieldComponent, "workflow"),
				logging.Error(err),
			)
			if m.errorRetry > 0 {
				select {
				case <-time.After(m.errorRetry):
				case <-ctx.Done():
					return
				}
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) dispatchRunnable(ctx context.Context, sem chan struct{}) error {
	items, err := m.store.NextRunnable(ctx, m.workers*2)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !m.markInflight(item.ID) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			m.clearInflight(item.ID)
			return nil
		}

		m.wg.Add(1)
		go func(item *queue.Item) {
			defer m.wg.Done()
			defer func() { <-sem }()
			defer m.clearInflight(item.ID)
			m.process(ctx, item)
		}(item)
	}
	return nil
}

func (m *Manager) process(ctx context.Context, item *queue.Item) {
	logger := logging.WithContext(services.WithItemID(ctx, item.ID), m.logger)
	final, err := m.engine.Advance(ctx, item)
	switch {
	case err == nil:
		logger.Info("item settled",
			logging.String(logging.FieldComponent, "workflow"),
			logging.String("final_state", string(final.State)),
		)
	case errors.Is(err, services.ErrConflict):
		// Another worker owns the item; nothing to do here.
		logger.Debug("item claimed elsewhere",
			logging.String(logging.FieldComponent, "workflow"),
		)
	case ctx.Err() != nil:
		// Shutdown mid-stage; the reclaimer hands the item to the next run.
	default:
		logger.Error("item processing failed",
			logging.String(logging.FieldComponent, "workflow"),
			logging.Error(err),
		)
	}
}

func (m *Manager) reclaimLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.reclaimInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-m.heartbeatTimeout)
		reclaimed, err := m.store.ReclaimStale(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("stale item reclaim failed",
					logging.String(logging.FieldComponent, "workflow"),
					logging.Error(err),
				)
			}
			continue
		}
		if reclaimed > 0 {
			m.logger.Warn("reclaimed stale items",
				logging.String(logging.FieldComponent, "workflow"),
				logging.Int64("count", reclaimed),
			)
		}
	}
}

func (m *Manager) markInflight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; ok {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) clearInflight(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}
