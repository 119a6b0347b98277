package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecowatch/backend/internal/batch"
	"github.com/ecowatch/backend/internal/detect"
	"github.com/ecowatch/backend/internal/models"
	"github.com/ecowatch/backend/internal/testutil"
)

const testTick = time.Millisecond

func newFixture(t *testing.T, fileCount int) (*batch.Session, *testutil.MockDetector, *testutil.MockEnricher, *batch.Collector, *Runner) {
	t.Helper()

	store := testutil.NewMemoryStore()
	session := batch.NewSession(store, 10, []string{"image/jpeg"})

	files := make([]batch.RegisterFile, fileCount)
	for i := range files {
		files[i] = batch.RegisterFile{
			Name:        fmt.Sprintf("img-%02d.jpg", i),
			ContentType: "image/jpeg",
			Content:     strings.NewReader(fmt.Sprintf("jpeg-bytes-%02d", i)),
		}
	}
	_, err := session.Register(files)
	require.NoError(t, err)

	detector := testutil.NewMockDetector()
	enricher := testutil.NewMockEnricher(json.RawMessage(`{"tiles":3}`))
	collector := batch.NewCollector()
	runner := NewRunner(session, store, detector, enricher, collector, testTick)

	return session, detector, enricher, collector, runner
}

func runToCompletion(t *testing.T, runner *Runner, opts Options) {
	t.Helper()
	require.NoError(t, runner.Start(context.Background(), opts))
	runner.Wait()
}

func TestRunCompletesAllItems(t *testing.T) {
	session, detector, _, collector, runner := newFixture(t, 3)

	runToCompletion(t, runner, Options{})

	items := session.Items()
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, models.ItemStatusCompleted, item.Status)
		assert.Equal(t, 100, item.Progress)
		assert.NotNil(t, item.Result)
	}

	assert.Equal(t, 100, session.GlobalProgress())
	assert.False(t, session.Processing())
	assert.Equal(t, 3, collector.Len())

	// Items were submitted strictly in registration order.
	assert.Equal(t, []string{"img-00.jpg", "img-01.jpg", "img-02.jpg"}, detector.Calls())
}

func TestItemFailureDoesNotAbortBatch(t *testing.T) {
	// Batch of 3 where item 2 receives an HTTP 500.
	session, detector, _, collector, runner := newFixture(t, 3)
	detector.Script("img-01.jpg", testutil.SubmitResult{
		Err: &detect.SubmitError{
			Kind:    detect.ServerError,
			Message: "detection service returned HTTP 500: internal error",
		},
	})

	runToCompletion(t, runner, Options{})

	items := session.Items()
	assert.Equal(t, models.ItemStatusCompleted, items[0].Status)
	assert.Equal(t, models.ItemStatusError, items[1].Status)
	assert.Equal(t, models.ItemStatusCompleted, items[2].Status)

	assert.Contains(t, items[1].Error, "HTTP 500")
	assert.Nil(t, items[1].Result)

	assert.Equal(t, 100, session.GlobalProgress())

	entries := collector.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, models.ItemStatusError, entries[1].Status)
}

func TestAllItemsErroredIsTerminal(t *testing.T) {
	session, detector, _, collector, runner := newFixture(t, 2)
	for i := 0; i < 2; i++ {
		detector.Script(fmt.Sprintf("img-%02d.jpg", i), testutil.SubmitResult{
			Err: &detect.SubmitError{Kind: detect.NetworkFailure, Message: "network failure: connection refused"},
		})
	}

	runToCompletion(t, runner, Options{})

	for _, item := range session.Items() {
		assert.Equal(t, models.ItemStatusError, item.Status)
	}
	assert.Equal(t, 100, session.GlobalProgress())
	assert.Equal(t, 2, collector.Len())
}

func TestProgressIsMonotonePerItem(t *testing.T) {
	_, _, _, _, runner := newFixture(t, 2)

	var mu sync.Mutex
	last := make(map[string]int)
	lastGlobal := 0

	runner.OnUpdate(func(item models.UploadItem, global int) {
		mu.Lock()
		defer mu.Unlock()

		if prev, ok := last[item.ID]; ok {
			assert.GreaterOrEqual(t, item.Progress, prev, "item %s progress decreased", item.ID)
		}
		last[item.ID] = item.Progress

		assert.GreaterOrEqual(t, global, lastGlobal, "global progress decreased")
		assert.LessOrEqual(t, global, 100)
		lastGlobal = global
	})

	runToCompletion(t, runner, Options{})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, lastGlobal)
	for id, p := range last {
		assert.Equal(t, 100, p, "item %s", id)
	}
}

func TestEnrichmentMergedWhenEnabled(t *testing.T) {
	session, detector, enricher, _, runner := newFixture(t, 1)
	detector.Script("img-00.jpg", testutil.SubmitResult{
		Result: &models.DetectionResult{
			Success:    true,
			Violations: []models.Violation{{Category: "illegal_dumping", Confidence: 0.92}},
			Location: &models.Location{
				Coordinates: &models.Coordinates{Latitude: 51.5, Longitude: -0.12},
			},
		},
	})

	runToCompletion(t, runner, Options{EnableEnrichment: true})

	item := session.Items()[0]
	require.Equal(t, models.ItemStatusCompleted, item.Status)
	require.NotNil(t, item.Result)
	assert.JSONEq(t, `{"tiles":3}`, string(item.Result.Enrichment))
	assert.Equal(t, 1, enricher.Lookups())
}

func TestEnrichmentSkippedWithoutCoordinates(t *testing.T) {
	session, detector, enricher, _, runner := newFixture(t, 1)
	detector.Script("img-00.jpg", testutil.SubmitResult{
		Result: &models.DetectionResult{Success: true},
	})

	runToCompletion(t, runner, Options{EnableEnrichment: true})

	item := session.Items()[0]
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	assert.Empty(t, item.Result.Enrichment)
	assert.Zero(t, enricher.Lookups())
}

func TestEnrichmentDisabledByDefault(t *testing.T) {
	_, detector, enricher, _, runner := newFixture(t, 1)
	detector.Script("img-00.jpg", testutil.SubmitResult{
		Result: &models.DetectionResult{
			Success:  true,
			Location: &models.Location{Coordinates: &models.Coordinates{Latitude: 1, Longitude: 2}},
		},
	})

	runToCompletion(t, runner, Options{EnableEnrichment: false})
	assert.Zero(t, enricher.Lookups())
}

func TestEnrichmentFailureNeverFailsItem(t *testing.T) {
	session, detector, enricher, _, runner := newFixture(t, 1)
	enricher.SetFail(true)
	detector.Script("img-00.jpg", testutil.SubmitResult{
		Result: &models.DetectionResult{
			Success:  true,
			Location: &models.Location{Coordinates: &models.Coordinates{Latitude: 1, Longitude: 2}},
		},
	})

	runToCompletion(t, runner, Options{EnableEnrichment: true})

	item := session.Items()[0]
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	assert.Empty(t, item.Result.Enrichment)
	assert.Equal(t, 1, enricher.Lookups())
}

func TestStartRejectedWhileRunning(t *testing.T) {
	_, detector, _, _, runner := newFixture(t, 1)

	release := make(chan struct{})
	blocking := &blockingDetector{inner: detector, release: release, started: make(chan struct{})}
	runner.detector = blocking

	require.NoError(t, runner.Start(context.Background(), Options{}))
	<-blocking.started

	assert.ErrorIs(t, runner.Start(context.Background(), Options{}), batch.ErrProcessing)

	close(release)
	runner.Wait()
}

func TestCancelLeavesRemainingItemsPending(t *testing.T) {
	session, detector, _, _, runner := newFixture(t, 3)

	release := make(chan struct{})
	blocking := &blockingDetector{inner: detector, release: release, started: make(chan struct{})}
	runner.detector = blocking

	require.NoError(t, runner.Start(context.Background(), Options{}))
	<-blocking.started

	runner.Cancel()
	close(release)
	runner.Wait()

	items := session.Items()
	// The in-flight item terminates through its context; the rest were
	// never started.
	assert.True(t, items[0].Status.Terminal())
	assert.Equal(t, models.ItemStatusPending, items[1].Status)
	assert.Equal(t, models.ItemStatusPending, items[2].Status)
	assert.False(t, session.Processing())
}

// blockingDetector holds submissions until released, so tests can observe
// mid-run state.
type blockingDetector struct {
	inner   Detector
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (d *blockingDetector) Submit(ctx context.Context, file io.Reader, fileName, locationHint string, onProgress detect.ProgressFunc) (*models.DetectionResult, error) {
	d.once.Do(func() { close(d.started) })

	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, &detect.SubmitError{
			Kind:    detect.NetworkFailure,
			Message: fmt.Sprintf("network failure: %v", ctx.Err()),
			Err:     ctx.Err(),
		}
	}
	return d.inner.Submit(ctx, file, fileName, locationHint, onProgress)
}
