// Package pipeline drives a registered batch through submission: strictly
// one item at a time, in registration order, with per-item progress and
// optional satellite enrichment of successful results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ecowatch/backend/internal/batch"
	"github.com/ecowatch/backend/internal/detect"
	"github.com/ecowatch/backend/internal/models"
	"github.com/ecowatch/backend/internal/storage"
)

// transferShare is the progress value reached when the request body has
// fully transferred; the remainder is the post-processing phase.
const transferShare = 50

// postProcessStep is the fixed increment of the post-processing phase.
const postProcessStep = 10

// Detector submits one file to the detection service.
type Detector interface {
	Submit(ctx context.Context, file io.Reader, fileName, locationHint string, onProgress detect.ProgressFunc) (*models.DetectionResult, error)
}

// Enricher resolves satellite enrichment for a coordinate. A false return
// means no enrichment is available; it is never an item failure.
type Enricher interface {
	Lookup(ctx context.Context, lat, lon float64) (json.RawMessage, bool)
}

// Options controls one batch run.
type Options struct {
	// LocationHint is free text forwarded with every submission to
	// disambiguate the image's whereabouts.
	LocationHint string
	// EnableEnrichment merges the satellite lookup into successful
	// results that carry resolvable coordinates.
	EnableEnrichment bool
}

// UpdateFunc observes item snapshots as the run progresses.
type UpdateFunc func(item models.UploadItem, globalProgress int)

// Runner drains a session sequentially. A single item's failure never
// aborts the batch; the run ends when every item is terminal or the context
// is cancelled.
type Runner struct {
	session   *batch.Session
	store     storage.Store
	detector  Detector
	enricher  Enricher
	collector *batch.Collector
	tick      time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	onUpdate UpdateFunc
}

// NewRunner creates a runner over the given collaborators. tick is the
// cadence of the post-processing progress phase.
func NewRunner(session *batch.Session, store storage.Store, detector Detector, enricher Enricher, collector *batch.Collector, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = 200 * time.Millisecond
	}
	return &Runner{
		session:   session,
		store:     store,
		detector:  detector,
		enricher:  enricher,
		collector: collector,
		tick:      tick,
	}
}

// OnUpdate registers the progress observer. Must be set before Start.
func (r *Runner) OnUpdate(fn UpdateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// Start begins draining the session in a background goroutine. It fails if
// a run is already active or nothing is pending.
func (r *Runner) Start(ctx context.Context, opts Options) error {
	if err := r.session.BeginRun(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer r.session.EndRun()
		defer cancel()
		r.run(runCtx, opts)
	}()

	return nil
}

// Cancel aborts the active run. In-flight work for the current item is
// interrupted through its context; remaining items stay pending.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the active run finishes. It returns immediately if no
// run was started.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, opts Options) {
	items := r.session.Items()
	fmt.Printf("[Batch] Starting run: %d items\n", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			fmt.Printf("[Batch] Run cancelled, %s left pending\n", shortID(item.ID))
			return
		}
		if item.Status != models.ItemStatusPending {
			continue
		}

		r.processItem(ctx, item.ID, opts)
	}

	fmt.Printf("[Batch] Run finished: global progress %d%%\n", r.session.GlobalProgress())
}

func (r *Runner) processItem(ctx context.Context, id string, opts Options) {
	item, err := r.session.BeginItem(id)
	if err != nil {
		fmt.Printf("[Batch %s] Skipping: %v\n", shortID(id), err)
		return
	}
	r.notify(item)

	fmt.Printf("[Batch %s] Submitting %s (%d bytes)\n", shortID(id), item.FileName, item.Size)

	result, err := r.submit(ctx, item, opts)
	if err != nil {
		kind := detect.KindOf(err)
		fmt.Printf("[Batch %s] Failed (%s): %v\n", shortID(id), kind, err)
		if failed, ferr := r.session.FailItem(id, err.Error()); ferr == nil {
			r.collector.Record(failed)
			r.notify(failed)
		}
		return
	}

	if opts.EnableEnrichment {
		r.enrichResult(ctx, id, result)
	}

	// Post-processing phase: walk progress from the transfer share to 100
	// in fixed steps on the run ticker. Cancellation mid-walk finalizes
	// the item immediately; the result is already in hand.
	r.walkPostProcess(ctx, id)

	if completed, cerr := r.session.CompleteItem(id, result); cerr == nil {
		r.collector.Record(completed)
		r.notify(completed)
		fmt.Printf("[Batch %s] Completed: %d violations\n", shortID(id), len(result.Violations))
	}
}

func (r *Runner) submit(ctx context.Context, item models.UploadItem, opts Options) (*models.DetectionResult, error) {
	payload, _, err := r.store.Open(item.ID)
	if err != nil {
		return nil, &detect.SubmitError{
			Kind:    detect.NetworkFailure,
			Message: fmt.Sprintf("payload unavailable: %v", err),
			Err:     err,
		}
	}
	defer payload.Close()

	onProgress := func(sent, total int64) {
		if total <= 0 {
			return
		}
		p := int(sent * transferShare / total)
		r.session.SetProgress(item.ID, p)
		if current, ok := r.session.Get(item.ID); ok {
			r.notify(current)
		}
	}

	return r.detector.Submit(ctx, payload, item.FileName, opts.LocationHint, onProgress)
}

// enrichResult merges the satellite lookup into the result when the payload
// carries resolvable coordinates. Lookup failures degrade the result and
// are never surfaced as item errors.
func (r *Runner) enrichResult(ctx context.Context, id string, result *models.DetectionResult) {
	coords, ok := result.ResolvedCoordinates()
	if !ok {
		return
	}

	data, ok := r.enricher.Lookup(ctx, coords.Latitude, coords.Longitude)
	if !ok {
		fmt.Printf("[Batch %s] No enrichment available for (%.4f, %.4f)\n", shortID(id), coords.Latitude, coords.Longitude)
		return
	}
	result.Enrichment = data
}

func (r *Runner) walkPostProcess(ctx context.Context, id string) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for p := transferShare + postProcessStep; p < 100; p += postProcessStep {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.session.SetProgress(id, p)
			if current, ok := r.session.Get(id); ok {
				r.notify(current)
			}
		}
	}
}

func (r *Runner) notify(item models.UploadItem) {
	r.mu.Lock()
	fn := r.onUpdate
	r.mu.Unlock()
	if fn != nil {
		fn(item, r.session.GlobalProgress())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
