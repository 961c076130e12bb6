package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	data_portal "github.com/hexi/data-portal"
	"github.com/hexi/data-portal/generic"
	"github.com/hexi/data-portal/internal/lpc"
	"github.com/hexi/data-portal/internal/pubsub"
	"github.com/hexi/data-portal/util"
)

// DefaultConcurrencyLimit is the batch concurrency ceiling: how many items may
// be active at once.
const DefaultConcurrencyLimit = 10

var (
	ErrEmptyBatch = errors.New("batch needs at least one item")
)

// A Fetcher opens the byte stream for one remote file. *data_portal.Client
// satisfies this.
type Fetcher interface {
	FetchFile(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

type BatchConfig struct {
	Fetcher   Fetcher
	TargetDir string
	// Limit is the concurrency ceiling; <= 0 means DefaultConcurrencyLimit.
	Limit int
	// RateLimit caps each transfer in bytes/second; 0 means unlimited.
	RateLimit int64
	// ProgressUpdateInterval is the minimum interval between speed samples and
	// ItemProgress events.
	ProgressUpdateInterval time.Duration
	History                Recorder
}

// BatchSnapshot is the aggregate view over a batch at one instant, derived
// from the per-item states and never independently mutated.
type BatchSnapshot struct {
	BatchID        string
	Items          []ItemState
	TotalItems     int
	CompletedItems int
	// ProgressPercent is the equally-weighted mean of per-item percentages,
	// counting completed items as 100.
	ProgressPercent int
	// SpeedBps is the sum of active items' sampled speeds.
	SpeedBps float64
	// ETASeconds is remaining known bytes over SpeedBps, or -1 when
	// indeterminate (no measurable speed).
	ETASeconds  float64
	Cancellable bool
}

// ComputeSnapshot derives the aggregate view from a set of item states.
func ComputeSnapshot(batchID string, items []ItemState) BatchSnapshot {
	snap := BatchSnapshot{
		BatchID:    batchID,
		Items:      items,
		TotalItems: len(items),
		ETASeconds: -1,
	}
	if len(items) == 0 {
		return snap
	}
	percentSum := 0
	var remaining int64
	for _, st := range items {
		if st.Status == StatusCompleted {
			percentSum += 100
			snap.CompletedItems++
		} else {
			percentSum += st.Percent
		}
		if st.Status == StatusActive {
			snap.SpeedBps += st.SpeedBps
		}
		if !st.Status.Terminal() {
			snap.Cancellable = true
			if st.Size > 0 {
				remaining += st.Size - st.Received
			}
		}
	}
	snap.ProgressPercent = percentSum / len(items)
	if snap.SpeedBps > 0 {
		snap.ETASeconds = float64(remaining) / snap.SpeedBps
	}
	return snap
}

type snapshotCommand = lpc.Command[generic.Void, BatchSnapshot]

// A Batch downloads a FIFO queue of items with a hard ceiling on how many are
// active at once. Admission, aggregate queries and completion run on a single
// coordinator goroutine; each admitted item gets its own transfer goroutine
// that only writes that item's slice of the state.
type Batch struct {
	id     string
	config BatchConfig
	items  []*Item

	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	events           pubsub.Publisher[Event]
	snapshotCommands chan *snapshotCommand
	done             chan struct{}

	startOnce  sync.Once
	cancelOnce sync.Once
}

func NewBatch(ctx context.Context, config BatchConfig, specs []ItemSpec) (*Batch, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyBatch
	}
	if config.Fetcher == nil {
		return nil, errors.New("batch requires a fetcher")
	}
	if config.Limit <= 0 {
		config.Limit = DefaultConcurrencyLimit
	}
	if config.ProgressUpdateInterval <= 0 {
		config.ProgressUpdateInterval = 500 * time.Millisecond
	}
	if config.TargetDir == "" {
		config.TargetDir = "."
	}
	if config.History == nil {
		config.History = NilRecorder{}
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Batch{
		id:               generic.Unwrap(uuid.NewRandom()).String(),
		config:           config,
		ctx:              ctx,
		ctxCancel:        cancel,
		events:           pubsub.NewPublisher[Event](),
		snapshotCommands: make(chan *snapshotCommand),
		done:             make(chan struct{}),
	}
	b.log = zap.S().Named("batch").With("batch_id", b.id)
	b.items = make([]*Item, 0, len(specs))
	for _, spec := range specs {
		b.items = append(b.items, newItem(spec, config.ProgressUpdateInterval))
	}
	return b, nil
}

func (b *Batch) ID() string {
	return b.id
}

// Items returns the batch's items in admission (FIFO) order.
func (b *Batch) Items() []*Item {
	items := make([]*Item, len(b.items))
	copy(items, b.items)
	return items
}

// Subscribe to batch events; do this before Start to not miss any.
func (b *Batch) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return b.events.Subscribe()
}

// Start launches the coordinator. Idempotent.
func (b *Batch) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Done closes once every item is terminal and the final event has been sent.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Cancel aborts the batch: admission stops, active streams are interrupted,
// and every non-terminal item flips to Cancelled immediately (the underlying
// network teardown may lag, which is fine). Completed items stay Completed.
// Cancellation is not an error; safe to call more than once.
func (b *Batch) Cancel() {
	b.cancelOnce.Do(func() {
		b.log.Debug("batch cancelled")
		b.ctxCancel()
		b.finishRemaining(StatusCancelled)
	})
}

// Snapshot returns the aggregate state at this instant.
func (b *Batch) Snapshot() BatchSnapshot {
	cmd := lpc.NewCommand[generic.Void, BatchSnapshot](generic.NewVoid())
	select {
	case b.snapshotCommands <- cmd:
		if snap, err := cmd.Wait(); err == nil {
			return snap
		}
	case <-b.done:
	}
	// Coordinator gone; item states are stable now, read them directly.
	return b.snapshot()
}

// Err aggregates per-item failures; nil when nothing failed. Cancelled items
// don't count as failures.
func (b *Batch) Err() error {
	var result error
	for _, it := range b.items {
		if state := it.State(); state.Status == StatusFailed && state.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", state.Name, state.Err))
		}
	}
	return result
}

func (b *Batch) run() {
	b.log.Debugw("batch started", "items", len(b.items), "limit", b.config.Limit)
	sem := make(chan struct{}, b.config.Limit)
	var wg sync.WaitGroup

admission:
	for _, it := range b.items {
		for {
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				item := it
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					b.runItem(item)
				}()
				continue admission
			case <-b.ctx.Done():
				break admission
			case cmd := <-b.snapshotCommands:
				_ = cmd.Respond(b.snapshot())
			}
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	for {
		select {
		case cmd := <-b.snapshotCommands:
			_ = cmd.Respond(b.snapshot())
		case <-finished:
			if b.ctx.Err() != nil {
				// Parent context cancellation behaves like Cancel().
				b.finishRemaining(StatusCancelled)
			}
			snap := b.snapshot()
			b.events.Send(BatchFinished{Snapshot: snap})
			b.log.Debugw("batch finished", "completed", snap.CompletedItems, "total", snap.TotalItems)
			close(b.done)
			b.events.Close()
			return
		}
	}
}

func (b *Batch) runItem(it *Item) {
	if !it.markActive(time.Now()) {
		// Left Queued before admission, i.e. cancelled.
		return
	}
	b.events.Send(ItemStarted{itemEvent{it}})
	b.log.Debugw("download started", "item", it.Name(), "path", it.Path())

	err := b.transferItem(it)
	switch {
	case err == nil:
		b.finishItem(it, StatusCompleted, nil)
	case b.ctx.Err() != nil || errors.Is(err, context.Canceled):
		b.finishItem(it, StatusCancelled, nil)
	default:
		b.finishItem(it, StatusFailed, err)
	}
}

func (b *Batch) transferItem(it *Item) error {
	stream, size, err := b.config.Fetcher.FetchFile(b.ctx, it.Path())
	if err != nil {
		return err
	}
	defer stream.Close()
	it.ensureSize(size)

	filename, err := util.SanitizeFilename(it.Name())
	if err != nil {
		return err
	}
	t := data_portal.NewTransferBuilder().
		WithContext(b.ctx).
		WithTargetDir(b.config.TargetDir).
		WithRateLimit(b.config.RateLimit).
		WithProgressCallback(func(received, _ int) {
			if sampled, state := it.setReceived(int64(received), time.Now()); sampled {
				b.events.Send(ItemProgress{itemEvent: itemEvent{it}, State: state})
			}
		}).
		Build()
	return t.SaveStream(filename, stream)
}

// finishItem moves an item to a terminal status (no-op if already terminal),
// publishes the transition, and records it in the history. A failed item never
// aborts its siblings.
func (b *Batch) finishItem(it *Item, status ItemStatus, err error) {
	changed, state := it.finish(status, err)
	if !changed {
		return
	}
	if status == StatusFailed {
		b.log.Warnw("download failed", "item", state.Name, "error", err)
	} else {
		b.log.Debugw("download finished", "item", state.Name, "status", status)
	}
	b.events.Send(ItemFinished{itemEvent: itemEvent{it}, State: state})

	rec := &Record{
		BatchID:    b.id,
		Path:       state.Path,
		Name:       state.Name,
		Status:     state.Status,
		Bytes:      state.Received,
		Duration:   it.activeDuration(),
		FinishedAt: time.Now(),
	}
	if state.Err != nil {
		rec.Err = state.Err.Error()
	}
	if rerr := b.config.History.RecordDownload(rec); rerr != nil {
		b.log.Warnw("failed to record download", "item", state.Name, "error", rerr)
	}
}

func (b *Batch) finishRemaining(status ItemStatus) {
	for _, it := range b.items {
		b.finishItem(it, status, nil)
	}
}

func (b *Batch) snapshot() BatchSnapshot {
	states := make([]ItemState, 0, len(b.items))
	for _, it := range b.items {
		states = append(states, it.State())
	}
	return ComputeSnapshot(b.id, states)
}
