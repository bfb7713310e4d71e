// Package scheduler implements the bounded-concurrency multi-qube
// worker pool (spec §4.7, §5), grounded on original_source's
// update_manager.py's UpdateManager (a multiprocessing.Pool) and
// MultipleUpdateMultipleProgressBar, reworked around
// golang.org/x/sync/errgroup and a terminal UI driven by
// github.com/morikuni/aec + golang.org/x/term, in the style the
// teacher pack uses those libraries.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qubesos/vmupdate/internal/orchestrator/manager"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/update/status"
)

// Scheduler runs one Manager per selected qube with a bounded worker
// pool, fans in status updates, and aggregates outcomes.
type Scheduler struct {
	Concurrency int
	Renderer    Renderer
	Log         *logrus.Entry

	terminated atomic.Bool
}

// Renderer consumes the fan-in status channel and renders it; MultiBar
// (interactive TTY) and SimpleBar (machine-parseable lines) both
// satisfy it (spec §6's two presentation modes).
type Renderer interface {
	Render(<-chan status.Info)
}

// Result is the scheduler's final report: one Outcome per qube plus
// the aggregated worst-case summary the CLI exit code derives from.
type Result struct {
	Outcomes  []manager.Outcome
	Cancelled bool
}

// Run drives mgrFor(qube) for every qube in qubes with at most
// Concurrency running at once, via errgroup.Group.SetLimit. SIGINT
// sets an atomic termination flag that stops dispatching new work (in
// flight work is allowed to finish so qubes are never left
// half-updated), matching spec §5's cancellation model. The previous
// SIGINT handler is restored before Run returns.
func (s *Scheduler) Run(ctx context.Context, qubes []*qubesadmin.Qube, mgrFor func(*qubesadmin.Qube) *manager.Manager) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	log := s.Log
	if log != nil {
		log = log.WithField("run_id", runID)
		log.WithField("qubes", len(qubes)).Info("starting update run")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			s.terminated.Store(true)
		case <-ctx.Done():
		}
	}()

	statusCh := make(chan status.Info, 64)
	var renderWG sync.WaitGroup
	if s.Renderer != nil {
		renderWG.Add(1)
		go func() {
			defer renderWG.Done()
			s.Renderer.Render(statusCh)
		}()
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	var outcomes []manager.Outcome
	var errs *multierror.Error

	for _, q := range qubes {
		q := q
		if s.terminated.Load() {
			break
		}
		g.Go(func() error {
			if s.terminated.Load() {
				return nil
			}
			mgr := mgrFor(q)
			out := mgr.Run(gctx, q, statusCh)

			mu.Lock()
			outcomes = append(outcomes, out)
			if out.Err != nil {
				errs = multierror.Append(errs, out.Err)
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	close(statusCh)
	renderWG.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Qube < outcomes[j].Qube })

	if log != nil {
		log.WithField("cancelled", s.terminated.Load()).Info("update run finished")
	}

	var resultErr error
	if errs != nil {
		resultErr = errs.ErrorOrNil()
	}
	return Result{Outcomes: outcomes, Cancelled: s.terminated.Load()}, resultErr
}
