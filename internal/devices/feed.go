// Package devices turns fixes and device-state reports posted by an employee's
// phone into the position and capability providers the location tracker reads.
package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendance-backend/internal/location"
)

// Feed holds the latest report from one device.
//
// LastKnownFix waits for the first fix until ctx is done, so a tracker cycle
// started right after login resolves as soon as the phone reports.
type Feed struct {
	mu         sync.Mutex
	permission bool
	enabled    bool
	fix        *location.PositionFix
	ready      chan struct{}
	subs       map[uint64]chan location.PositionFix
	nextSub    uint64
	closed     bool

	maxAge time.Duration
	now    func() time.Time
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithMaxFixAge rejects fixes older than d. Zero disables the check.
func WithMaxFixAge(d time.Duration) FeedOption {
	return func(f *Feed) { f.maxAge = d }
}

// WithFeedClock overrides time.Now.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *Feed) { f.now = now }
}

// NewFeed returns a Feed with permission and positioning both off until the
// device reports otherwise.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		ready: make(chan struct{}),
		subs:  make(map[uint64]chan location.PositionFix),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReportState records the device's permission and positioning switches.
// Revoking permission ends every live subscription.
func (f *Feed) ReportState(permission, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	revoked := f.permission && !permission
	f.permission = permission
	f.enabled = enabled
	if revoked {
		f.closeSubsLocked()
	}
}

// ReportFix stores a fix from the device and forwards it to subscribers.
func (f *Feed) ReportFix(fix location.PositionFix) error {
	if !fix.Coordinate.Valid() {
		return fmt.Errorf("invalid coordinate %+v", fix.Coordinate)
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = f.now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return location.ErrSubscriptionClosed
	}
	// Out-of-order delivery: keep the newest capture.
	if f.fix != nil && fix.CapturedAt.Before(f.fix.CapturedAt) {
		return nil
	}
	if f.fix == nil {
		close(f.ready)
	}
	f.fix = &fix

	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- fix
	}
	return nil
}

// HasLocationPermission implements location.CapabilityProvider.
func (f *Feed) HasLocationPermission() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

// IsPositioningEnabled implements location.CapabilityProvider.
func (f *Feed) IsPositioningEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// LastKnownFix implements location.PositionProvider.
func (f *Feed) LastKnownFix(ctx context.Context) (location.PositionFix, error) {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return location.PositionFix{}, fmt.Errorf("%w: no fix reported: %v", location.ErrPositionUnavailable, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.permission {
		return location.PositionFix{}, location.ErrPermission
	}
	fix := *f.fix
	if f.maxAge > 0 && f.now().Sub(fix.CapturedAt) > f.maxAge {
		return location.PositionFix{}, fmt.Errorf("%w: last fix is %s old", location.ErrPositionUnavailable, f.now().Sub(fix.CapturedAt).Round(time.Second))
	}
	return fix, nil
}

// Subscribe implements location.PositionProvider. The stream holds at most
// one pending fix and closes on cancel, ctx done, permission revocation or
// Close.
func (f *Feed) Subscribe(ctx context.Context) (<-chan location.PositionFix, func()) {
	f.mu.Lock()
	ch := make(chan location.PositionFix, 1)
	if f.closed {
		close(ch)
		f.mu.Unlock()
		return ch, func() {}
	}
	f.nextSub++
	key := f.nextSub
	f.subs[key] = ch
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[key]; ok {
				delete(f.subs, key)
				close(sub)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

// Close ends every subscription and rejects further fixes.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeSubsLocked()
}

func (f *Feed) closeSubsLocked() {
	for key, ch := range f.subs {
		delete(f.subs, key)
		close(ch)
	}
}
