// Package cleanup runs tombstone cleanup over storage instances in the
// background.
package cleanup

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/docstore/internal/storage"
)

// Config configures a Runner.
type Config struct {
	Interval      time.Duration
	MinDeletedAge time.Duration
	// MaxPasses bounds the Cleanup calls per instance and round.
	MaxPasses int
	Logger    *zap.Logger
}

// Result is the outcome of one round for one instance.
type Result struct {
	Key    string `json:"key"`
	Passes int    `json:"passes"`
	Done   bool   `json:"done"`
}

// Runner calls Cleanup on registered instances until each reports that no
// purgeable tombstone remains.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	instances map[string]storage.Instance
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		logger:    cfg.Logger,
		instances: make(map[string]storage.Instance),
	}
}

func key(inst storage.Instance) string {
	return inst.DatabaseName() + "/" + inst.CollectionName()
}

// Register adds inst. The returned function removes it again.
func (r *Runner) Register(inst storage.Instance) func() {
	k := key(inst)
	r.mu.Lock()
	r.instances[k] = inst
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.instances[k] == inst {
			delete(r.instances, k)
		}
	}
}

func (r *Runner) snapshot() []storage.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// RunOnce cleans every registered instance in parallel. Instances that were
// closed are dropped from the runner. Results are sorted by key.
func (r *Runner) RunOnce(ctx context.Context) ([]Result, error) {
	instances := r.snapshot()
	results := make([]Result, 0, len(instances))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			res, err := r.drain(gctx, inst)
			if storage.IsClosed(err) {
				r.logger.Debug("dropping closed instance", zap.String("instance", key(inst)))
				r.unregister(inst)
				return nil
			}
			if err != nil {
				r.logger.Error("cleanup failed", zap.String("instance", key(inst)), zap.Error(err))
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, err
}

func (r *Runner) drain(ctx context.Context, inst storage.Instance) (Result, error) {
	res := Result{Key: key(inst)}
	for res.Passes < r.cfg.MaxPasses {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		done, err := inst.Cleanup(ctx, r.cfg.MinDeletedAge)
		if err != nil {
			return res, err
		}
		res.Passes++
		if done {
			res.Done = true
			break
		}
	}
	r.logger.Info("cleanup pass",
		zap.String("instance", res.Key),
		zap.Int("passes", res.Passes),
		zap.Bool("done", res.Done))
	return res, nil
}

func (r *Runner) unregister(inst storage.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k := key(inst); r.instances[k] == inst {
		delete(r.instances, k)
	}
}

// Run calls RunOnce every interval until ctx is done. Round failures are
// logged and do not stop the runner.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("cleanup runner started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("min_deleted_age", r.cfg.MinDeletedAge))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cleanup runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("cleanup round failed", zap.Error(err))
			}
		}
	}
}
