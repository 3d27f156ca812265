// Package controller owns the single current session and enforces the
// lifecycle none -> active <-> paused -> completed | discarded.
package controller

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

// Persister accepts snapshots for asynchronous persistence.
type Persister interface {
	Enqueue(s *session.Session) bool
}

// Lister reads persisted sessions.
type Lister interface {
	List(ctx context.Context, f session.Filter) ([]*session.Session, error)
}

// Mirror is the device-local copy of recent snapshots: unsent writes and
// the last known live session.
type Mirror interface {
	Snapshots() ([]*session.Session, error)
}

// Options configures a Controller. Zero intervals disable the live loop.
type Options struct {
	Now          func() time.Time
	NewID        func() (string, error)
	CapSeconds   int64
	TickInterval time.Duration
	PollInterval time.Duration
	// PollLimit bounds how many recent records a reconciliation or restore reads.
	PollLimit int
	// Mirror is merged into Restore and used alone when the backend fails.
	Mirror Mirror
	Logger *log.Logger
}

// StartInput contains the parameters for Start.
type StartInput struct {
	Goal                   string
	Type                   session.Type
	PlannedDurationSeconds *int64
	Tags                   []string
}

// StopInput contains the optional completion details for Stop.
type StopInput struct {
	Rating *int
	Notes  *string
}

// Controller serializes all transitions on the current session.
type Controller struct {
	opts   Options
	writer Persister
	lister Lister
	subs   subscribers

	mu         sync.Mutex
	current    *session.Session
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closed     bool
	// unrestored is set when Restore could not tell whether a session is live.
	unrestored bool
}

// New returns a Controller persisting through writer and reconciling
// against lister. lister may be nil when no reconciliation is wanted.
func New(writer Persister, lister Lister, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = session.NewID
	}
	if opts.CapSeconds == 0 {
		opts.CapSeconds = session.DefaultOpenCapSeconds
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = 50
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Controller{opts: opts, writer: writer, lister: lister}
}

// Subscribe registers fn for all events and returns its unsubscribe func.
func (c *Controller) Subscribe(fn Listener) func() {
	return c.subs.add(fn)
}

// Current returns a snapshot of the live session and its timing.
func (c *Controller) Current() (*session.Session, session.Timing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, session.Timing{}, false
	}
	return c.current.Clone(), session.Compute(c.current, c.opts.Now(), c.opts.CapSeconds), true
}

// Start creates a new active session. It fails with CONFLICT while another
// session is live, leaving that session untouched.
func (c *Controller) Start(in StartInput) (*session.Session, error) {
	c.mu.Lock()
	if c.current != nil {
		id, status := c.current.ID, string(c.current.Status)
		c.mu.Unlock()
		return nil, errors.NewConflict(id, status)
	}
	if c.closed {
		c.mu.Unlock()
		return nil, errors.NewInvalidState("start", "closed")
	}
	if c.unrestored {
		c.mu.Unlock()
		return nil, errUnrestored()
	}

	s, err := c.newSession(in)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.current = s
	events := c.persistLocked(EventStarted, false)
	c.startLoopLocked()
	out := s.Clone()
	c.mu.Unlock()

	c.subs.emit(events...)
	return out, nil
}

func (c *Controller) newSession(in StartInput) (*session.Session, error) {
	typ := in.Type
	if typ == "" {
		typ = session.TypeOpen
		if in.PlannedDurationSeconds != nil {
			typ = session.TypeTimeBoxed
		}
	}
	if err := session.ValidateType(typ, in.PlannedDurationSeconds); err != nil {
		return nil, err
	}
	goal := strings.TrimSpace(in.Goal)
	if utf8.RuneCountInString(goal) > session.MaxGoalChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("goal exceeds %d characters", session.MaxGoalChars))
	}
	tags := session.NormalizeTags(in.Tags)
	if err := session.ValidateTags(tags); err != nil {
		return nil, err
	}

	id, err := c.opts.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var planned *int64
	if in.PlannedDurationSeconds != nil {
		p := *in.PlannedDurationSeconds
		planned = &p
	}
	return &session.Session{
		ID:                     id,
		Goal:                   goal,
		Type:                   typ,
		PlannedDurationSeconds: planned,
		Tags:                   tags,
		Status:                 session.StatusActive,
		StartedAt:              c.opts.Now().UTC(),
		PauseIntervals:         []session.PauseInterval{},
		Version:                1,
	}, nil
}

// Pause suspends the active session.
func (c *Controller) Pause() (*session.Session, error) {
	return c.transition("pause", session.StatusActive, EventPaused, func(s *session.Session, now time.Time) {
		s.PauseIntervals = append(s.PauseIntervals, session.PauseInterval{PausedAt: now})
		s.Status = session.StatusPaused
	})
}

// Resume continues a paused session.
func (c *Controller) Resume() (*session.Session, error) {
	return c.transition("resume", session.StatusPaused, EventResumed, func(s *session.Session, now time.Time) {
		if p := s.OpenPause(); p != nil {
			p.ResumedAt = &now
		}
		s.Status = session.StatusActive
	})
}

func (c *Controller) transition(op string, from session.Status, ev EventType, apply func(*session.Session, time.Time)) (*session.Session, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil, c.noSessionErr(op)
	}
	if c.current.Status != from {
		status := string(c.current.Status)
		c.mu.Unlock()
		return nil, errors.NewInvalidState(op, status)
	}

	apply(c.current, c.now())
	c.current.Version++
	events := c.persistLocked(ev, false)
	out := c.current.Clone()
	c.mu.Unlock()

	c.subs.emit(events...)
	return out, nil
}

// Stop completes the live session with optional rating and notes.
func (c *Controller) Stop(in StopInput) (*session.Session, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil, c.noSessionErr("stop")
	}
	if err := session.ValidateCompletion(in.Rating, in.Notes); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	s := c.current
	s.Rating = in.Rating
	s.Notes = in.Notes
	events := c.finishLocked(c.now(), session.StatusCompleted, EventCompleted, false)
	c.mu.Unlock()

	c.subs.emit(events...)
	return s.Clone(), nil
}

// Discard abandons the live session. It is kept for audit.
func (c *Controller) Discard() (*session.Session, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil, c.noSessionErr("discard")
	}
	s := c.current
	events := c.finishLocked(c.now(), session.StatusDiscarded, EventDiscarded, false)
	c.mu.Unlock()

	c.subs.emit(events...)
	return s.Clone(), nil
}

// Tick recomputes the live timing, emits a tick event and auto-completes the
// session once its planned duration or the open cap is reached. It returns
// the timing and whether a session was live before the tick.
func (c *Controller) Tick() (session.Timing, bool) {
	return c.tick("")
}

// tick only acts on the session with onlyID when it is non-empty, so a loop
// outliving its session never touches the next one.
func (c *Controller) tick(onlyID string) (session.Timing, bool) {
	c.mu.Lock()
	s := c.current
	if s == nil || (onlyID != "" && s.ID != onlyID) {
		c.mu.Unlock()
		return session.Timing{}, false
	}

	now := c.now()
	timing := session.Compute(s, now, c.opts.CapSeconds)
	events := []Event{{Type: EventTick, At: now, Session: s.Clone(), Timing: timing}}

	if limit, ok := session.Limit(s, c.opts.CapSeconds); ok {
		if boundary, reached := session.LimitReachedAt(s, limit, now); reached {
			trimPausesAfter(s, boundary)
			events = append(events, c.finishLocked(boundary, session.StatusCompleted, EventCompleted, true)...)
			timing = session.Compute(s, now, c.opts.CapSeconds)
		}
	}
	c.mu.Unlock()

	c.subs.emit(events...)
	return timing, true
}

// trimPausesAfter drops pause intervals that began at or after the boundary
// and clamps one that straddles it.
func trimPausesAfter(s *session.Session, boundary time.Time) {
	kept := s.PauseIntervals[:0]
	for _, p := range s.PauseIntervals {
		if !p.PausedAt.Before(boundary) {
			continue
		}
		if p.ResumedAt == nil || p.ResumedAt.After(boundary) {
			b := boundary
			p.ResumedAt = &b
		}
		kept = append(kept, p)
	}
	s.PauseIntervals = kept
}

// finishLocked moves the current session to a terminal status at end,
// persists it and clears current. c.mu must be held.
func (c *Controller) finishLocked(end time.Time, status session.Status, ev EventType, auto bool) []Event {
	s := c.current
	if p := s.OpenPause(); p != nil {
		e := end
		p.ResumedAt = &e
	}
	s.Status = status
	s.EndedAt = &end
	s.Version++

	events := c.persistLocked(ev, auto)
	c.current = nil
	c.stopLoopLocked()
	return events
}

// persistLocked enqueues the current snapshot and builds the event for it.
func (c *Controller) persistLocked(ev EventType, auto bool) []Event {
	snap := c.current.Clone()
	now := c.now()
	events := []Event{{
		Type:    ev,
		At:      now,
		Session: snap,
		Timing:  session.Compute(snap, now, c.opts.CapSeconds),
		Auto:    auto,
	}}
	if !c.writer.Enqueue(snap.Clone()) {
		err := errors.NewPersistence("write queue", nil)
		c.opts.Logger.Printf("controller: %s v%d not queued: %v", snap.ID, snap.Version, err)
		events = append(events, Event{Type: EventWarning, At: now, Session: snap, Err: err})
	}
	return events
}

// Saved records the server id of a persisted snapshot on the live session.
// It is wired as the write queue's success callback.
func (c *Controller) Saved(saved *session.Session) {
	if saved == nil || saved.RemoteID == "" {
		return
	}
	c.mu.Lock()
	if c.current != nil && c.current.ID == saved.ID && c.current.RemoteID == "" {
		c.current.RemoteID = saved.RemoteID
	}
	c.mu.Unlock()
}

// PersistFailed surfaces a write failure as a non-fatal warning. The in-memory
// session is never rolled back.
func (c *Controller) PersistFailed(s *session.Session, err error) {
	c.opts.Logger.Printf("controller: persisting %s v%d failed: %v", s.ID, s.Version, err)
	c.subs.emit(Event{Type: EventWarning, At: c.opts.Now(), Session: s.Clone(), Err: err})
}

// Reconcile compares the backend copy of the live session with memory and
// re-enqueues the in-memory snapshot when the backend is missing it or holds
// an older version.
func (c *Controller) Reconcile(ctx context.Context) error {
	if c.lister == nil {
		return nil
	}
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	from := c.current.StartedAt
	id := c.current.ID
	c.mu.Unlock()

	remote, err := c.lister.List(ctx, session.Filter{From: &from, Limit: c.opts.PollLimit})
	if err != nil {
		if ctx.Err() != nil {
			// The loop was stopped, usually because the session ended.
			return errors.NewCancelled("reconcile")
		}
		c.subs.emit(Event{Type: EventWarning, At: c.opts.Now(), Err: err})
		return err
	}

	var stored *session.Session
	for _, s := range remote {
		if s.ID == id {
			stored = s
			break
		}
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != id {
		c.mu.Unlock()
		return nil
	}
	if stored != nil && stored.RemoteID != "" && c.current.RemoteID == "" {
		c.current.RemoteID = stored.RemoteID
	}
	if stored != nil && stored.Version >= c.current.Version {
		c.mu.Unlock()
		return nil
	}
	snap := c.current.Clone()
	c.writer.Enqueue(snap.Clone())
	c.mu.Unlock()

	c.subs.emit(Event{Type: EventReconciled, At: c.opts.Now(), Session: snap})
	return nil
}

// Restore reloads the live session after a restart and ticks it at once so
// a timer that expired while the process was down completes. Older live
// records (left by a crash between writes) are discarded. Mirror snapshots
// newer than the backend copy win. When the backend cannot be read, the
// mirror alone is used; if it holds no live session either, Start refuses
// to run until a later Restore succeeds.
func (c *Controller) Restore(ctx context.Context) (*session.Session, error) {
	if c.lister == nil {
		return nil, nil
	}
	local := c.mirrored()
	all, err := c.lister.List(ctx, session.Filter{Limit: c.opts.PollLimit})
	if err != nil {
		if len(liveOf(local)) == 0 {
			c.mu.Lock()
			if c.current == nil {
				c.unrestored = true
			}
			c.mu.Unlock()
			return nil, err
		}
		c.opts.Logger.Printf("controller: backend unreadable, restoring from device mirror: %v", err)
		all = local
	} else {
		all = newestPerID(all, local)
	}

	live := liveOf(all)
	c.mu.Lock()
	c.unrestored = false
	if c.current != nil {
		out := c.current.Clone()
		c.mu.Unlock()
		return out, nil
	}
	if len(live) == 0 {
		c.mu.Unlock()
		return nil, nil
	}
	session.SortByStartDesc(live)

	var events []Event
	now := c.now()
	for _, stale := range live[1:] {
		s := stale.Clone()
		end := now
		if p := s.OpenPause(); p != nil {
			p.ResumedAt = &end
		}
		s.Status = session.StatusDiscarded
		s.EndedAt = &end
		s.Version++
		c.writer.Enqueue(s)
		events = append(events, Event{
			Type:    EventWarning,
			At:      now,
			Session: s.Clone(),
			Err:     errors.NewConflict(live[0].ID, string(live[0].Status)),
		})
	}

	c.current = live[0].Clone()
	c.startLoopLocked()
	c.mu.Unlock()

	c.subs.emit(events...)
	c.Tick()

	out, _, ok := c.Current()
	if !ok {
		return nil, nil
	}
	return out, nil
}

// Restored reports whether the controller knows if a session is live.
func (c *Controller) Restored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unrestored
}

func errUnrestored() error {
	return errors.NewPersistence("session backend", fmt.Errorf("cannot confirm whether a session is live"))
}

func (c *Controller) noSessionErr(op string) error {
	if c.unrestored {
		return errUnrestored()
	}
	return errors.NewInvalidState(op, session.StatusNone)
}

func (c *Controller) mirrored() []*session.Session {
	if c.opts.Mirror == nil {
		return nil
	}
	snaps, err := c.opts.Mirror.Snapshots()
	if err != nil {
		c.opts.Logger.Printf("controller: read device mirror: %v", err)
		return nil
	}
	return snaps
}

func liveOf(all []*session.Session) []*session.Session {
	var live []*session.Session
	for _, s := range all {
		if s.IsLive() {
			live = append(live, s)
		}
	}
	return live
}

// newestPerID merges local into remote keeping the highest version of each
// id. A local winner adopts the remote id it may not have learned yet.
func newestPerID(remote, local []*session.Session) []*session.Session {
	out := make([]*session.Session, 0, len(remote)+len(local))
	index := make(map[string]int, len(remote))
	for _, s := range remote {
		index[s.ID] = len(out)
		out = append(out, s)
	}
	for _, s := range local {
		i, ok := index[s.ID]
		if !ok {
			index[s.ID] = len(out)
			out = append(out, s)
			continue
		}
		if s.Version <= out[i].Version {
			continue
		}
		merged := s.Clone()
		if merged.RemoteID == "" {
			merged.RemoteID = out[i].RemoteID
		}
		out[i] = merged
	}
	return out
}

// Close stops the live loop and waits for it to exit. The live session stays
// persisted and can be restored later.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	done := c.loopDone
	c.stopLoopLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Controller) now() time.Time {
	return c.opts.Now().UTC()
}

// startLoopLocked starts the tick/poll goroutine for the current session.
func (c *Controller) startLoopLocked() {
	if c.closed || (c.opts.TickInterval <= 0 && c.opts.PollInterval <= 0) {
		return
	}
	c.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go c.loop(ctx, c.current.ID, done)
}

// stopLoopLocked cancels the loop without waiting, since the loop itself
// may be the caller (auto-stop from a tick).
func (c *Controller) stopLoopLocked() {
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
}

func (c *Controller) loop(ctx context.Context, id string, done chan struct{}) {
	defer close(done)

	var tickC, pollC <-chan time.Time
	if c.opts.TickInterval > 0 {
		t := time.NewTicker(c.opts.TickInterval)
		defer t.Stop()
		tickC = t.C
	}
	if c.opts.PollInterval > 0 && c.lister != nil {
		p := time.NewTicker(c.opts.PollInterval)
		defer p.Stop()
		pollC = p.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			if _, live := c.tick(id); !live {
				return
			}
		case <-pollC:
			_ = c.Reconcile(ctx)
		}
	}
}
