// Package cooldown limits how many conversions a user can run inside a
// sliding window. Every successful use adds an entry that expires on its
// own after the window; a user with max live entries is on cooldown until
// the oldest one expires. A request reserves its slot up front with
// Reserve and either commits or releases it when done.
package cooldown

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Tracker holds the live cooldown entries of all users. Entries sit in a
// per-user list in creation order and in one min-heap ordered by expiry;
// a single timer fires for the earliest expiry.
type Tracker struct {
	max    int
	window time.Duration
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	users  map[string][]*entry
	expiry expiryHeap
	timer  *time.Timer
	armed  time.Time
	nextID uint64
	closed bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// New creates a tracker allowing max uses per window.
func New(max int, window time.Duration, opts ...Option) *Tracker {
	if max < 1 {
		max = 1
	}
	t := &Tracker{
		max:    max,
		window: window,
		clock:  systemClock{},
		users:  make(map[string][]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Max returns the number of uses allowed per window.
func (t *Tracker) Max() int { return t.max }

// Window returns the cooldown window.
func (t *Tracker) Window() time.Duration { return t.window }

// CheckAndReport reports whether userID is on cooldown and, if so, how long
// until the oldest live entry expires. The wait is truncated to whole
// seconds; a wait that truncates to 0:00 is not a cooldown.
func (t *Tracker) CheckAndReport(userID string) (onCooldown bool, minutes, seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(userID, t.clock.Now())
}

func (t *Tracker) checkLocked(userID string, now time.Time) (onCooldown bool, minutes, seconds int) {
	live := t.liveLocked(userID, now)
	if len(live) < t.max {
		return false, 0, 0
	}

	left := int(live[0].expiresAt.Sub(now) / time.Second)
	minutes, seconds = left/60, left%60
	if minutes == 0 && seconds == 0 {
		return false, 0, 0
	}
	return true, minutes, seconds
}

// Reservation holds one slot of a user while a request is in flight.
// Exactly one of Commit or Release takes effect; later calls are no-ops.
type Reservation struct {
	t    *Tracker
	e    *entry
	done bool
}

// Reserve checks userID and takes a slot in the same step, so concurrent
// requests of one user cannot all pass the check. When the user is on
// cooldown the reservation is nil and the wait is reported as in
// CheckAndReport.
func (t *Tracker) Reserve(userID string) (res *Reservation, onCooldown bool, minutes, seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if on, m, s := t.checkLocked(userID, now); on {
		return nil, true, m, s
	}
	t.nextID++
	e := &entry{
		user:      userID,
		id:        t.nextID,
		expiresAt: now.Add(t.window),
		pending:   true,
	}
	t.users[userID] = append(t.users[userID], e)
	return &Reservation{t: t, e: e}, false, 0, 0
}

// Commit turns the slot into a use expiring one window from now.
func (r *Reservation) Commit() {
	if r == nil {
		return
	}
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.done {
		return
	}
	r.done = true
	e := r.e
	if e.removed {
		return
	}
	t.removeEntryLocked(e)
	if t.closed {
		return
	}
	e.pending = false
	e.expiresAt = t.clock.Now().Add(t.window)
	t.users[e.user] = append(t.users[e.user], e)
	heap.Push(&t.expiry, e)

	if t.expiry.peek() == e {
		t.armLocked()
	}
}

// Release gives the slot back.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.done {
		return
	}
	r.done = true
	if !r.e.removed {
		t.removeEntryLocked(r.e)
	}
}

// RecordUse adds an entry for userID expiring one window from now.
func (t *Tracker) RecordUse(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.nextID++
	e := &entry{
		user:      userID,
		id:        t.nextID,
		expiresAt: t.clock.Now().Add(t.window),
	}
	t.users[userID] = append(t.users[userID], e)
	heap.Push(&t.expiry, e)

	if t.expiry.peek() == e {
		t.armLocked()
	}
}

// Cancel drops every entry of userID. Their heap items are skipped when
// they come due.
func (t *Tracker) Cancel(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.users[userID] {
		e.removed = true
	}
	delete(t.users, userID)
}

// Active returns the number of live entries of userID.
func (t *Tracker) Active(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.liveLocked(userID, t.clock.Now()))
}

// Users returns how many users hold at least one entry, expired entries
// not yet collected included.
func (t *Tracker) Users() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Close stops the expiry timer. Later RecordUse calls are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// liveLocked returns the entries of userID that expire after now, plus
// pending ones. Committed entries are appended with a fixed window, so they
// stay in expiry order.
func (t *Tracker) liveLocked(userID string, now time.Time) []*entry {
	list := t.users[userID]
	live := make([]*entry, 0, len(list))
	for _, e := range list {
		if e.pending || e.expiresAt.After(now) {
			live = append(live, e)
		}
	}
	return live
}

// armLocked points the timer at the earliest expiry.
func (t *Tracker) armLocked() {
	next := t.expiry.peek()
	if next == nil || t.closed {
		return
	}
	if t.timer != nil && t.armed.Equal(next.expiresAt) {
		return
	}
	d := next.expiresAt.Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}
	t.armed = next.expiresAt
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.fire)
		return
	}
	t.timer.Stop()
	t.timer.Reset(d)
}

func (t *Tracker) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.armed = time.Time{}
	t.expireDueLocked(t.clock.Now())
	t.armLocked()
}

// expireDueLocked removes every entry whose expiry is at or before now.
func (t *Tracker) expireDueLocked(now time.Time) int {
	expired := 0
	for {
		next := t.expiry.peek()
		if next == nil || next.expiresAt.After(now) {
			break
		}
		heap.Pop(&t.expiry)
		if next.removed {
			continue
		}
		t.removeEntryLocked(next)
		expired++
	}
	if expired > 0 {
		t.logger.Debug("cooldown entries expired", "count", expired, "pending", t.expiry.Len())
	}
	return expired
}

func (t *Tracker) removeEntryLocked(e *entry) {
	list := t.users[e.user]
	for i, cur := range list {
		if cur == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.users, e.user)
		return
	}
	t.users[e.user] = list
}
