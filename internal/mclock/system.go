package mclock

import (
	"time"
)

// System implements Clock using the system clock.
type System struct{}

func (System) Now() AbsTime {
	return AbsTime(monotime())
}

func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (System) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	time.AfterFunc(d, func() { ch <- System{}.Now() })
	return ch
}

func (System) AfterFunc(d time.Duration, f func()) Timer {
	return (*systemTimer)(time.AfterFunc(d, f))
}

func (System) NewTimer(d time.Duration) ChanTimer {
	ch := make(chan AbsTime, 1)
	t := time.AfterFunc(d, func() {
		select {
		case ch <- System{}.Now():
		default:
		}
	})
	return &systemChanTimer{timer: t, ch: ch, d: d}
}

type systemTimer time.Timer

func (t *systemTimer) Stop() bool {
	return (*time.Timer)(t).Stop()
}

type systemChanTimer struct {
	timer *time.Timer
	ch    chan AbsTime
	d     time.Duration
}

func (t *systemChanTimer) Stop() bool { return t.timer.Stop() }
func (t *systemChanTimer) C() <-chan AbsTime {
	return t.ch
}

func (t *systemChanTimer) Reset(d time.Duration) {
	t.timer.Reset(d)
}
