package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-backend/internal/geofence"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultFixTimeout bounds one evaluation cycle.
const DefaultFixTimeout = 10 * time.Second

var tracer = otel.Tracer("attendance-backend/internal/location")

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	Status         Status           `json:"status"`
	Fix            *PositionFix     `json:"fix,omitempty"`
	DistanceMeters *float64         `json:"distance_meters,omitempty"`
	Geofence       *geofence.Config `json:"geofence,omitempty"`
	Error          string           `json:"error,omitempty"`
	Cycle          uint64           `json:"cycle"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Fix != nil {
		fix := *s.Fix
		out.Fix = &fix
	}
	if s.DistanceMeters != nil {
		d := *s.DistanceMeters
		out.DistanceMeters = &d
	}
	if s.Geofence != nil {
		cfg := *s.Geofence
		out.Geofence = &cfg
	}
	return out
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFixTimeout bounds each evaluation cycle, covering both the position
// fix and the geofence configuration round-trips.
func WithFixTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.fixTimeout = d
		}
	}
}

// WithRecorder attaches cycle metrics.
func WithRecorder(r CycleRecorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithTriggerLimiter throttles cycles started by Watch.
func WithTriggerLimiter(l TriggerLimiter) Option {
	return func(t *Tracker) { t.limiter = l }
}

// WithLogf sets the logger used for superseded cycles and stream events.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(t *Tracker) {
		if logf != nil {
			t.logf = logf
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker owns the LocationStatus of one device and the last known fix.
//
// Only the evaluation cycle mutates that state. At most one cycle is in
// flight at a time: a trigger that arrives while a cycle runs cancels it and
// queues a single follow-up cycle for the newest trigger. Results are applied
// in trigger order, so a superseded cycle never overwrites a newer one.
type Tracker struct {
	capabilities CapabilityProvider
	positions    PositionProvider
	geofences    geofence.Provider

	fixTimeout time.Duration
	recorder   CycleRecorder
	limiter    TriggerLimiter
	logf       func(format string, args ...any)
	now        func() time.Time

	mu        sync.Mutex
	snap      Snapshot
	triggered uint64 // highest cycle id handed out
	settled   uint64 // highest cycle id whose result was applied or superseded
	inFlight  bool
	cancel    context.CancelFunc
	settledCh chan struct{}
	subs      map[uint64]chan Snapshot
	nextSub   uint64
}

// NewTracker builds a Tracker in StatusUnknown.
func NewTracker(capabilities CapabilityProvider, positions PositionProvider, geofences geofence.Provider, opts ...Option) *Tracker {
	t := &Tracker{
		capabilities: capabilities,
		positions:    positions,
		geofences:    geofences,
		fixTimeout:   DefaultFixTimeout,
		logf:         func(string, ...any) {},
		now:          time.Now,
		settledCh:    make(chan struct{}),
		subs:         make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.snap = Snapshot{Status: StatusUnknown, UpdatedAt: t.now()}
	return t
}

// Snapshot returns the current state without triggering a cycle.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.clone()
}

// Status returns the current status without triggering a cycle.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Status
}

// LastFix returns the last position fix obtained by any cycle.
func (t *Tracker) LastFix() (PositionFix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Fix == nil {
		return PositionFix{}, false
	}
	return *t.snap.Fix, true
}

// Trigger starts a new evaluation cycle and returns its id without waiting.
func (t *Tracker) Trigger() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.triggered++
	id := t.triggered

	if t.inFlight {
		// Supersede the running cycle; run() picks up the newest id next.
		if t.cancel != nil {
			t.cancel()
		}
		return id
	}

	t.inFlight = true
	go t.run()
	return id
}

// Refresh triggers a cycle and waits until it, or a newer cycle, settles.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	return t.Await(ctx, t.Trigger())
}

// Await blocks until the cycle with the given id, or a newer one, has
// settled, then returns the resulting snapshot.
func (t *Tracker) Await(ctx context.Context, id uint64) (Snapshot, error) {
	for {
		t.mu.Lock()
		if t.settled >= id {
			snap := t.snap.clone()
			t.mu.Unlock()
			return snap, nil
		}
		ch := t.settledCh
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return t.Snapshot(), ctx.Err()
		}
	}
}

// Subscribe streams snapshots to a presentation layer. The current snapshot
// is delivered immediately; slow readers only ever see the newest one.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSub++
	key := t.nextSub
	ch := make(chan Snapshot, 1)
	ch <- t.snap.clone()
	t.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[key]; ok {
				delete(t.subs, key)
				close(sub)
			}
		})
	}
}

// Watch triggers a cycle for every fix on the provider's live stream until
// ctx is done or the stream closes. Stream-driven triggers pass through the
// trigger limiter when one is configured; fixes throttled by it are covered
// by a single trailing cycle once the limiter allows it.
func (t *Tracker) Watch(ctx context.Context) error {
	fixes, cancel := t.positions.Subscribe(ctx)
	defer cancel()

	var (
		trailing  *time.Timer
		trailingC <-chan time.Time
	)
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trailingC:
			trailing, trailingC = nil, nil
			t.Trigger()
		case _, ok := <-fixes:
			if !ok {
				// Re-evaluate once so a permanent revocation becomes visible.
				t.Trigger()
				t.logf("⚠️  [LOCATION] position stream closed")
				return ErrSubscriptionClosed
			}
			if t.limiter == nil || t.limiter.Allow() {
				t.Trigger()
				continue
			}
			if trailingC != nil {
				continue
			}
			if r := t.limiter.Reserve(); r.OK() {
				trailing = time.NewTimer(r.Delay())
				trailingC = trailing.C
			}
		}
	}
}

type cycleResult struct {
	status Status
	fix    *PositionFix
	eval   *geofence.Result
	cfg    *geofence.Config
	err    error
}

func (t *Tracker) run() {
	for {
		t.mu.Lock()
		if t.settled >= t.triggered {
			t.inFlight = false
			t.cancel = nil
			t.mu.Unlock()
			return
		}
		id := t.triggered
		ctx, cancel := context.WithTimeout(context.Background(), t.fixTimeout)
		t.cancel = cancel
		t.mu.Unlock()

		started := time.Now()
		res := t.evaluate(ctx, id)
		cancel()
		t.commit(id, res, time.Since(started))
	}
}

// evaluate is one pass of the transition function.
func (t *Tracker) evaluate(ctx context.Context, id uint64) cycleResult {
	ctx, span := tracer.Start(ctx, "location.evaluate", trace.WithAttributes(
		attribute.Int64("location.cycle", int64(id)),
	))
	defer span.End()

	res := t.transition(ctx, id)
	span.SetAttributes(attribute.String("location.status", res.status.String()))
	if res.err != nil && res.status != StatusWithinRange && res.status != StatusOutOfRange {
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res
}

func (t *Tracker) transition(ctx context.Context, id uint64) cycleResult {
	if !t.capabilities.HasLocationPermission() {
		return cycleResult{status: StatusPermissionDenied, err: ErrPermission}
	}
	if !t.capabilities.IsPositioningEnabled() {
		return cycleResult{status: StatusGPSDisabled, err: ErrDeviceCapability}
	}

	t.markLoading(id)

	var (
		fix            PositionFix
		cfg            geofence.Config
		fixErr, cfgErr error
	)
	// Both legs share the cycle ctx; one failing must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		f, err := t.positions.LastKnownFix(ctx)
		switch {
		case errors.Is(err, ErrPermission):
			fixErr = err
		case err != nil:
			fixErr = fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
		case !f.Coordinate.Valid():
			fixErr = fmt.Errorf("%w: invalid coordinate %+v", ErrPositionUnavailable, f.Coordinate)
		default:
			fix = f
		}
		return fixErr
	})
	g.Go(func() error {
		c, err := t.geofences.GeofenceConfig(ctx)
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			cfgErr = fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
			return cfgErr
		}
		cfg = c
		return nil
	})
	_ = g.Wait()

	var res cycleResult
	if fixErr == nil && fix.Coordinate.Valid() {
		res.fix = &fix
	}
	switch {
	// A revoked permission outranks a config failure observed in parallel.
	case errors.Is(fixErr, ErrPermission):
		res.status, res.err = StatusPermissionDenied, fixErr
	case cfgErr != nil:
		res.status, res.err = StatusUnknown, cfgErr
	case fixErr != nil:
		res.status, res.err = StatusUnknown, fixErr
	default:
		eval := geofence.Evaluate(fix.Coordinate, cfg)
		res.eval, res.cfg = &eval, &cfg
		if eval.InRange {
			res.status = StatusWithinRange
		} else {
			res.status = StatusOutOfRange
		}
	}
	return res
}

func (t *Tracker) markLoading(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != t.triggered {
		return
	}
	t.snap.Status = StatusLoading
	t.snap.Cycle = id
	t.snap.Error = ""
	t.snap.DistanceMeters = nil
	t.snap.Geofence = nil
	t.snap.UpdatedAt = t.now()
	t.publishLocked()
}

func (t *Tracker) commit(id uint64, res cycleResult, elapsed time.Duration) {
	t.mu.Lock()
	if id != t.triggered {
		t.mu.Unlock()
		t.logf("⏭️  [LOCATION] cycle %d superseded, result %s discarded", id, res.status)
		if t.recorder != nil {
			t.recorder.CycleSuperseded()
		}
		return
	}

	t.snap.Status = res.status
	t.snap.Cycle = id
	t.snap.UpdatedAt = t.now()
	if res.fix != nil {
		t.snap.Fix = res.fix
	}
	if res.eval != nil {
		d := res.eval.DistanceMeters
		t.snap.DistanceMeters = &d
		t.snap.Geofence = res.cfg
	} else {
		t.snap.DistanceMeters = nil
		t.snap.Geofence = nil
	}
	t.snap.Error = ""
	if res.err != nil {
		t.snap.Error = res.err.Error()
	}

	t.settled = id
	close(t.settledCh)
	t.settledCh = make(chan struct{})
	t.publishLocked()
	t.mu.Unlock()

	if t.recorder != nil {
		t.recorder.CycleCompleted(res.status, elapsed)
	}
}

// publishLocked delivers the snapshot to every subscriber, replacing any
// value the subscriber has not read yet. Callers hold t.mu.
func (t *Tracker) publishLocked() {
	snap := t.snap.clone()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
