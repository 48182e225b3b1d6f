// Package batch converts several sources as one all-or-nothing job and
// delivers them as a ZIP archive, reporting progress per session.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/archive"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/logger"
	"image-converter-go/internal/progress"
	"image-converter-go/internal/statistics"
)

// Progress checkpoints. Conversion fills [0, convertSpan], archiving fills
// (convertSpan, 99] and completion is always 100.
const (
	convertSpan = 90
	zipSpan     = 9
)

// Session is the externally visible state of a batch.
type Session struct {
	ID        string          `json:"id"`
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Percent   int             `json:"percent"`
	Status    progress.Status `json:"status"`
	StartedAt time.Time       `json:"started_at"`
}

type sessionState struct {
	Session
	cancel context.CancelFunc
}

// Options configures a Coordinator.
type Options struct {
	MaxFiles   int
	Workers    int
	Logger     *logrus.Logger
	Stats      *statistics.Statistics
	NewArchive func() archive.Writer
}

// Coordinator runs batches through a converter.Converter.
type Coordinator struct {
	conv       converter.Converter
	broker     progress.Broker
	maxFiles   int
	workers    int
	log        *logrus.Logger
	stats      *statistics.Statistics
	newArchive func() archive.Writer

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewCoordinator returns a Coordinator. A nil broker is replaced by an
// in-memory hub nobody listens to.
func NewCoordinator(conv converter.Converter, broker progress.Broker, opts Options) *Coordinator {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Stats == nil {
		opts.Stats = statistics.NewStatistics()
	}
	if opts.NewArchive == nil {
		opts.NewArchive = func() archive.Writer { return archive.NewZipWriter() }
	}
	if broker == nil {
		broker = progress.NewHub(1, opts.Logger)
	}
	return &Coordinator{
		conv:       conv,
		broker:     broker,
		maxFiles:   opts.MaxFiles,
		workers:    opts.Workers,
		log:        opts.Logger,
		stats:      opts.Stats,
		newArchive: opts.NewArchive,
		sessions:   make(map[string]*sessionState),
	}
}

// MaxFiles returns the largest accepted batch.
func (c *Coordinator) MaxFiles() int { return c.maxFiles }

// NewSessionID issues a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ConvertBatch converts every request and returns the archive bytes. Either
// all files are converted or an error is returned and no archive exists.
// An empty sessionID gets a generated one.
func (c *Coordinator) ConvertBatch(ctx context.Context, sessionID string, reqs []converter.Request) ([]byte, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	log := logger.WithSession(c.log, sessionID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := c.register(sessionID, len(reqs), cancel)
	if err != nil {
		return nil, err
	}
	defer c.unregister(sessionID)

	if err := c.validate(reqs); err != nil {
		c.stats.IncrementValidationFailures()
		c.fail(st, "", err)
		log.WithError(err).Warn("Batch rejected")
		return nil, err
	}

	c.stats.IncrementBatchesStarted()
	log.WithField("files", len(reqs)).Info("Batch started")
	c.transition(st, progress.StatusConverting, 0, 0)
	c.broker.Publish(progress.Event{
		Kind:      progress.Started,
		SessionID: sessionID,
		Total:     len(reqs),
		Status:    progress.StatusConverting,
	})

	results, err := c.convertAll(ctx, st, reqs)
	if err == nil && ctx.Err() != nil {
		err = cancelled(ctx)
	}
	if err != nil {
		c.finishWithError(st, err, log)
		return nil, err
	}

	data, err := c.zip(st, results)
	if err != nil {
		c.finishWithError(st, err, log)
		return nil, err
	}

	c.transition(st, progress.StatusDone, st.Completed, 100)
	c.broker.Publish(progress.Event{
		Kind:      progress.Completed,
		SessionID: sessionID,
		Index:     len(reqs),
		Total:     len(reqs),
		Percent:   100,
		Status:    progress.StatusDone,
	})
	c.stats.IncrementBatchesCompleted()
	log.WithField("bytes", len(data)).Info("Batch completed")
	return data, nil
}

// validate runs every check that needs no decoding.
func (c *Coordinator) validate(reqs []converter.Request) error {
	if len(reqs) == 0 {
		return apperr.New(apperr.KindInvalidRequest, apperr.StageValidation, "", errors.New("no files submitted"))
	}
	if len(reqs) > c.maxFiles {
		return apperr.New(apperr.KindTooManyFiles, apperr.StageValidation, "",
			fmt.Errorf("%d files submitted, at most %d allowed", len(reqs), c.maxFiles))
	}
	for _, r := range reqs {
		if err := c.conv.Validate(r); err != nil {
			return err
		}
	}
	return nil
}

type outcome struct {
	index int
	res   *converter.Result
	err   error
}

// convertAll runs the conversions on the worker pool. Only this goroutine
// publishes progress, so percentages never go backwards.
func (c *Coordinator) convertAll(ctx context.Context, st *sessionState, reqs []converter.Request) ([]*converter.Result, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	jobs := make(chan int, len(reqs))
	outcomes := make(chan outcome, len(reqs))

	workers := min(c.workers, len(reqs))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				res, err := c.conv.Convert(ctx, reqs[i])
				outcomes <- outcome{index: i, res: res, err: err}
			}
		}()
	}
	for i := range reqs {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]*converter.Result, len(reqs))
	var firstErr error
	completed := 0
	for o := range outcomes {
		if firstErr != nil {
			continue
		}
		if o.err != nil {
			logger.WithFile(c.log, reqs[o.index].SourceName).
				WithField("session", st.ID).
				WithError(o.err).
				Warn("File failed, aborting batch")
			firstErr = c.batchError(ctx, reqs[o.index].SourceName, o.err)
			stop()
			continue
		}
		results[o.index] = o.res
		completed++
		pct := completed * convertSpan / len(reqs)
		c.transition(st, progress.StatusConverting, completed, pct)
		c.broker.Publish(progress.Event{
			Kind:      progress.FileProgress,
			SessionID: st.ID,
			Index:     completed,
			Total:     len(reqs),
			Filename:  reqs[o.index].SourceName,
			Percent:   pct,
			Status:    progress.StatusConverting,
		})
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if completed < len(reqs) {
		return nil, cancelled(ctx)
	}
	return results, nil
}

// batchError wraps a per-file failure. A failure caused by cancellation is
// reported as such.
func (c *Coordinator) batchError(ctx context.Context, file string, err error) error {
	if errors.Is(err, apperr.ErrCancelled) || errors.Is(err, context.Canceled) {
		return apperr.New(apperr.KindCancelled, apperr.StageBatch, file, err)
	}
	stage := apperr.StageBatch
	if e, ok := apperr.As(err); ok {
		stage = e.Stage
	}
	return apperr.New(apperr.KindBatch, stage, file, err)
}

func (c *Coordinator) zip(st *sessionState, results []*converter.Result) ([]byte, error) {
	n := len(results)
	c.transition(st, progress.StatusZipping, n, convertSpan)

	w := c.newArchive()
	for i, res := range results {
		name, err := w.AddEntry(res.FileName, res.Bytes)
		if err != nil {
			return nil, apperr.New(apperr.KindBatch, apperr.StageArchive, res.FileName, err)
		}
		pct := convertSpan + zipSpan*(i+1)/n
		c.transition(st, progress.StatusZipping, n, pct)
		c.broker.Publish(progress.Event{
			Kind:      progress.Zipping,
			SessionID: st.ID,
			Index:     i + 1,
			Total:     n,
			Filename:  name,
			Percent:   pct,
			Status:    progress.StatusZipping,
		})
	}

	data, err := w.Finalize()
	if err != nil {
		return nil, apperr.New(apperr.KindBatch, apperr.StageArchive, "", err)
	}
	return data, nil
}

func (c *Coordinator) finishWithError(st *sessionState, err error, log *logrus.Entry) {
	file := ""
	if e, ok := apperr.As(err); ok {
		file = e.File
	}
	c.fail(st, file, err)
	if errors.Is(err, apperr.ErrCancelled) {
		c.stats.IncrementBatchesCancelled()
		log.Info("Batch cancelled")
		return
	}
	c.stats.IncrementBatchesFailed()
	log.WithError(err).Error("Batch failed")
}

func (c *Coordinator) fail(st *sessionState, file string, err error) {
	c.mu.Lock()
	st.Status = progress.StatusFailed
	pct := st.Percent
	c.mu.Unlock()

	c.broker.Publish(progress.Event{
		Kind:      progress.Failed,
		SessionID: st.ID,
		Total:     st.Total,
		Filename:  file,
		Percent:   pct,
		Status:    progress.StatusFailed,
		Reason:    err.Error(),
	})
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return apperr.New(apperr.KindCancelled, apperr.StageBatch, "", cause)
}
