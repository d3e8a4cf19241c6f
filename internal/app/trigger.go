package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taxsale/internal/domain"
)

// RunTrigger starts source runs in the background, detached from the request that asked
// for them. At most one run per source is in flight.
type RunTrigger struct {
	repo domain.PropertyRepository
	p    *Pipeline
	base context.Context

	mu      sync.Mutex
	running map[int64]string
	wg      sync.WaitGroup
}

// NewRunTrigger runs every triggered job under base; cancelling base stops them.
func NewRunTrigger(base context.Context, repo domain.PropertyRepository, p *Pipeline) *RunTrigger {
	return &RunTrigger{repo: repo, p: p, base: base, running: map[int64]string{}}
}

// Start returns the new run id once the job is scheduled. A source that is unknown gives
// ErrNotFound, disabled gives ErrValidation, already running gives ErrConflict.
func (t *RunTrigger) Start(ctx context.Context, sourceID int64, opts RunOptions) (string, error) {
	src, err := t.repo.GetSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if !src.Enabled {
		return "", fmt.Errorf("source %d: %w: disabled", sourceID, domain.ErrValidation)
	}

	t.mu.Lock()
	if id, busy := t.running[sourceID]; busy {
		t.mu.Unlock()
		return id, fmt.Errorf("source %d: %w: run %s in progress", sourceID, domain.ErrConflict, id)
	}
	opts.RunID = uuid.NewString()
	t.running[sourceID] = opts.RunID
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.running, sourceID)
			t.mu.Unlock()
		}()
		if _, err := t.p.Run(t.base, src, opts); err != nil {
			log.Warn().Err(err).Str("run_id", opts.RunID).Int64("source_id", sourceID).Msg("triggered run failed")
		}
	}()
	return opts.RunID, nil
}

// Wait blocks until every started run has returned.
func (t *RunTrigger) Wait() { t.wg.Wait() }
