// Package timer implements the bootloader's software timer facility.
//
// Timers are countdown handles checked by polling. A one-shot (timeout) timer
// reports Expired once its period has elapsed since it was started; a repeating
// timer with a callback is serviced by Service, which plays the role of the
// periodic hardware tick. There are no goroutines: everything runs on the
// caller's thread of control.
package timer

import (
	"fmt"
	"time"
)

// ID identifies an allocated timer handle.
type ID int

// InvalidID is returned when no handle could be allocated.
const InvalidID ID = -1

// Mode selects the timer behaviour.
type Mode uint8

const (
	// ModeTimeout is a one-shot countdown.
	ModeTimeout Mode = 0

	// ModeRepeating re-arms itself every period and invokes its callback from Service.
	ModeRepeating Mode = 1 << 0

	// ModeStarted arms the timer at allocation time.
	ModeStarted Mode = 1 << 1
)

// Callback is invoked from Service when a repeating timer's period elapses.
// Callbacks must return quickly and must not block.
type Callback func(id ID)

type slot struct {
	inUse    bool
	mode     Mode
	period   time.Duration
	deadline time.Time
	callback Callback
}

func (s *slot) started() bool { return s.mode&ModeStarted != 0 }

// Facility owns a fixed pool of timer handles.
type Facility struct {
	clock Clock
	slots []slot
}

// DefaultCapacity is the number of handles a Facility provides when none is given.
const DefaultCapacity = 8

// New creates a Facility driven by clock with room for capacity handles.
func New(clock Clock, capacity int) *Facility {
	if clock == nil {
		panic("clock cannot be nil")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Facility{
		clock: clock,
		slots: make([]slot, capacity),
	}
}

// Clock returns the time base of the facility.
func (f *Facility) Clock() Clock { return f.clock }

// Allocate reserves a handle. When mode includes ModeStarted the countdown
// begins immediately. It returns InvalidID when the pool is exhausted.
func (f *Facility) Allocate(mode Mode, period time.Duration, cb Callback) ID {
	for i := range f.slots {
		s := &f.slots[i]
		if s.inUse {
			continue
		}
		*s = slot{
			inUse:    true,
			mode:     mode,
			period:   period,
			callback: cb,
		}
		if s.started() {
			s.deadline = f.clock.Now().Add(period)
		}
		return ID(i)
	}
	return InvalidID
}

// MustAllocate is like Allocate but panics when the pool is exhausted.
func (f *Facility) MustAllocate(mode Mode, period time.Duration, cb Callback) ID {
	id := f.Allocate(mode, period, cb)
	if id == InvalidID {
		panic(fmt.Sprintf("timer: pool of %d handles exhausted", len(f.slots)))
	}
	return id
}

func (f *Facility) get(id ID) *slot {
	if id < 0 || int(id) >= len(f.slots) || !f.slots[id].inUse {
		return nil
	}
	return &f.slots[id]
}

// Start arms the timer with its current period.
func (f *Facility) Start(id ID) {
	if s := f.get(id); s != nil {
		s.mode |= ModeStarted
		s.deadline = f.clock.Now().Add(s.period)
	}
}

// Stop disarms the timer without releasing it.
func (f *Facility) Stop(id ID) {
	if s := f.get(id); s != nil {
		s.mode &^= ModeStarted
	}
}

// Restart sets a new period and arms the timer.
func (f *Facility) Restart(id ID, period time.Duration) {
	if s := f.get(id); s != nil {
		s.period = period
		s.mode |= ModeStarted
		s.deadline = f.clock.Now().Add(period)
	}
}

// Running reports whether the timer is armed.
func (f *Facility) Running(id ID) bool {
	s := f.get(id)
	return s != nil && s.started()
}

// Expired reports whether an armed timer's countdown has elapsed. A disarmed
// timer never expires; a released or unknown handle is always expired so that
// nothing waits forever on it.
func (f *Facility) Expired(id ID) bool {
	s := f.get(id)
	if s == nil {
		return true
	}
	if !s.started() {
		return false
	}
	return !f.clock.Now().Before(s.deadline)
}

// Remaining returns the time left on an armed timer, or zero.
func (f *Facility) Remaining(id ID) time.Duration {
	s := f.get(id)
	if s == nil || !s.started() {
		return 0
	}
	d := s.deadline.Sub(f.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Free releases the handle for reuse.
func (f *Facility) Free(id ID) {
	if s := f.get(id); s != nil {
		*s = slot{}
	}
}

// Service is the tick handler. It invokes the callback of every armed
// repeating timer whose period has elapsed and re-arms it one period later.
// Callbacks may allocate or free other handles.
func (f *Facility) Service() {
	now := f.clock.Now()
	for i := range f.slots {
		s := &f.slots[i]
		if !s.inUse || !s.started() || s.mode&ModeRepeating == 0 {
			continue
		}
		if now.Before(s.deadline) {
			continue
		}
		s.deadline = s.deadline.Add(s.period)
		if s.deadline.Before(now) {
			// Missed ticks are not replayed.
			s.deadline = now.Add(s.period)
		}
		if cb := s.callback; cb != nil {
			cb(ID(i))
		}
	}
}
