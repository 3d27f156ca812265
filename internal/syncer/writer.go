package syncer

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

// Saver persists one session snapshot.
type Saver interface {
	Save(ctx context.Context, s *session.Session) (*session.Session, error)
}

// WriterOptions tunes the retry queue.
type WriterOptions struct {
	// MaxAttempts caps tries per snapshot (default 5).
	MaxAttempts int
	// BaseDelay is the first backoff; attempt n waits BaseDelay*2^(n-1) (default 500ms).
	BaseDelay time.Duration
	// MaxDelay caps a single backoff (default 30s).
	MaxDelay time.Duration

	// OnSaved runs after a snapshot lands, with the stored record.
	OnSaved func(saved *session.Session)
	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(s *session.Session, attempt int, err error)
	// OnFailure runs when a snapshot is dropped.
	OnFailure func(s *session.Session, err error)

	// Journal, when set, records every accepted snapshot until it is saved
	// or fails for good, so a later process can replay it.
	Journal Journal

	Logger *log.Logger
}

// Writer is a fire-and-forget persistence queue. Snapshots are coalesced per
// session id (highest version wins) and saved by one worker goroutine.
type Writer struct {
	saver Saver
	opts  WriterOptions

	mu      sync.Mutex
	pending map[string]*session.Session
	order   []string
	busy    bool
	closed  bool
	waiters []chan struct{}
	// unsaved maps ids given up on to the version that failed.
	unsaved map[string]int64

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWriter starts a writer over saver.
func NewWriter(saver Saver, opts WriterOptions) *Writer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		saver:   saver,
		opts:    opts,
		pending: make(map[string]*session.Session),
		unsaved: make(map[string]int64),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go w.run()
	return w
}

// Enqueue schedules a snapshot of s. It reports false after Close.
func (w *Writer) Enqueue(s *session.Session) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.opts.Logger.Printf("syncer: writer closed, dropping session %s v%d", s.ID, s.Version)
		return false
	}
	w.record(s)
	cur, ok := w.pending[s.ID]
	switch {
	case !ok:
		w.pending[s.ID] = s.Clone()
		w.order = append(w.order, s.ID)
	case s.Version >= cur.Version:
		w.pending[s.ID] = s.Clone()
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued snapshots (excluding one in flight).
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// Flush blocks until the queue is drained and no save is in flight.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.closed || (!w.busy && len(w.order) == 0) {
		w.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	w.waiters = append(w.waiters, ch)
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errors.NewCancelled("flush")
	}
}

// Close flushes (bounded by ctx) and stops the worker. Snapshots still
// queued when ctx expires are dropped; they stay in the Journal. Close
// returns a PERSISTENCE error when any snapshot was never saved.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return err
	}
	w.closed = true
	w.mu.Unlock()

	close(w.quit)
	w.cancel()
	<-w.stopped

	if n := w.Unsaved(); n > 0 {
		return errors.NewPersistence("write queue", fmt.Errorf("%d session snapshot(s) not saved", n))
	}
	return err
}

// Unsaved returns how many sessions have a snapshot the writer gave up on
// and no newer snapshot saved since.
func (w *Writer) Unsaved() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.unsaved)
}

func (w *Writer) run() {
	defer close(w.stopped)
	for {
		s, ok := w.next()
		if !ok {
			return
		}
		w.process(s)
	}
}

// next pops the oldest queued snapshot, parking while the queue is empty.
func (w *Writer) next() (*session.Session, bool) {
	for {
		w.mu.Lock()
		if len(w.order) > 0 {
			id := w.order[0]
			w.order = w.order[1:]
			s := w.pending[id]
			delete(w.pending, id)
			w.busy = true
			w.mu.Unlock()
			return s, true
		}
		w.busy = false
		for _, ch := range w.waiters {
			close(ch)
		}
		w.waiters = nil
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-w.quit:
			return nil, false
		}
	}
}

// process saves s, retrying retryable failures with exponential backoff.
func (w *Writer) process(s *session.Session) {
	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if w.superseded(s) {
				return
			}
			select {
			case <-time.After(w.backoff(attempt - 1)):
			case <-w.ctx.Done():
				w.fail(s, errors.NewCancelled("save"))
				return
			}
		}

		saved, err := w.saver.Save(w.ctx, s)
		if err == nil {
			w.settle(s, saved)
			if w.opts.OnSaved != nil {
				w.opts.OnSaved(saved)
			}
			return
		}
		lastErr = err
		if !Retryable(err) {
			break
		}
		if attempt < w.opts.MaxAttempts {
			w.opts.Logger.Printf("syncer: save %s v%d attempt %d failed: %v", s.ID, s.Version, attempt, err)
			if w.opts.OnRetry != nil {
				w.opts.OnRetry(s, attempt, err)
			}
		}
	}
	w.fail(s, lastErr)
}

func (w *Writer) fail(s *session.Session, err error) {
	w.opts.Logger.Printf("syncer: giving up on session %s v%d: %v", s.ID, s.Version, err)
	w.mu.Lock()
	if v, ok := w.unsaved[s.ID]; !ok || s.Version > v {
		w.unsaved[s.ID] = s.Version
	}
	w.mu.Unlock()
	// A rejected snapshot never lands; replay only what may still succeed.
	if !Retryable(err) && !errors.Is(err, errors.ErrCancelled) {
		w.settleJournal(s)
	}
	if w.opts.OnFailure != nil {
		w.opts.OnFailure(s, err)
	}
}

func (w *Writer) record(s *session.Session) {
	if w.opts.Journal == nil {
		return
	}
	if err := w.opts.Journal.Record(s); err != nil {
		w.opts.Logger.Printf("syncer: journal session %s v%d: %v", s.ID, s.Version, err)
	}
}

// settle clears the unsaved mark and the journal entry for s.
func (w *Writer) settle(s, saved *session.Session) {
	w.mu.Lock()
	if v, ok := w.unsaved[s.ID]; ok && v <= s.Version {
		delete(w.unsaved, s.ID)
	}
	w.mu.Unlock()

	done := s.Clone()
	if saved != nil && saved.RemoteID != "" {
		done.RemoteID = saved.RemoteID
	}
	w.settleJournal(done)
}

func (w *Writer) settleJournal(s *session.Session) {
	if w.opts.Journal == nil {
		return
	}
	if err := w.opts.Journal.Settle(s); err != nil {
		w.opts.Logger.Printf("syncer: settle session %s v%d: %v", s.ID, s.Version, err)
	}
}

// backoff returns BaseDelay*2^(n-1), capped at MaxDelay.
func (w *Writer) backoff(n int) time.Duration {
	d := w.opts.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= w.opts.MaxDelay {
			return w.opts.MaxDelay
		}
	}
	return min(d, w.opts.MaxDelay)
}

// superseded reports whether a snapshot at least as new as s is queued.
func (w *Writer) superseded(s *session.Session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[s.ID]
	return ok && p.Version >= s.Version
}

// Retryable reports whether a save failure may succeed on retry: storage or
// transport failures and unclassified errors.
func Retryable(err error) bool {
	se, ok := errors.As(err)
	if !ok {
		return true
	}
	return se.Code == errors.ErrPersistence || se.Code == errors.ErrInternal
}
