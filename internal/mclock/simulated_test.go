package mclock

import (
	"testing"
	"time"
)

var _ Clock = System{}
var _ Clock = new(Simulated)

func TestSimulatedAfterFuncStopPreventsFiring(t *testing.T) {
	var c Simulated

	called := false
	timer := c.AfterFunc(100*time.Millisecond, func() { called = true })

	if ok := timer.Stop(); !ok {
		t.Fatal("Stop returned false for a still-pending timer")
	}
	c.Run(time.Second)
	if called {
		t.Fatal("callback fired after Stop")
	}

	if ok := timer.Stop(); ok {
		t.Fatal("Stop returned true on an already-stopped timer")
	}
}

func TestSimulatedAfterFuncFiresOnce(t *testing.T) {
	var c Simulated

	calls := 0
	timer := c.AfterFunc(50*time.Millisecond, func() { calls++ })

	c.Run(50 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// A fired timer's Stop is a no-op that reports it did nothing, the
	// same contract as time.Timer.Stop.
	if ok := timer.Stop(); ok {
		t.Fatal("Stop returned true after the timer had already fired")
	}

	c.Run(time.Hour)
	if calls != 1 {
		t.Fatalf("calls = %d after further advancing the clock, want 1", calls)
	}
}

func TestSimulatedRunOrdersDueTimersByDeadline(t *testing.T) {
	var c Simulated

	var order []string
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "third") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "first") })
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, "second") })

	c.Run(30 * time.Millisecond)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSimulatedAfterDeliversOnChannel(t *testing.T) {
	var (
		c       Simulated
		timeout = 30 * time.Minute
		offset  = 99 * time.Hour
		adv     = 11 * time.Minute
	)
	c.Run(offset)

	end := c.Now().Add(timeout)
	ch := c.After(timeout)
	for c.Now() < end.Add(-adv) {
		c.Run(adv)
		select {
		case <-ch:
			t.Fatal("timer fired early")
		default:
		}
	}

	c.Run(adv)
	select {
	case stamp := <-ch:
		want := AbsTime(0).Add(offset).Add(timeout)
		if stamp != want {
			t.Errorf("wrong time sent on timer channel: got %v, want %v", stamp, want)
		}
	default:
		t.Fatal("timer didn't fire")
	}
}

func TestSimulatedTimerResetReschedulesFromNow(t *testing.T) {
	var (
		c       Simulated
		timeout = time.Hour
	)
	timer := c.NewTimer(timeout)
	c.Run(2 * timeout)
	select {
	case ftime := <-timer.C():
		if ftime != AbsTime(timeout) {
			t.Fatalf("wrong time %v sent on timer channel, want %v", ftime, AbsTime(timeout))
		}
	default:
		t.Fatal("timer didn't fire")
	}

	timer.Reset(timeout)
	c.Run(2 * timeout)
	select {
	case ftime := <-timer.C():
		if ftime != AbsTime(3*timeout) {
			t.Fatalf("wrong time %v sent on timer channel, want %v", ftime, AbsTime(3*timeout))
		}
	default:
		t.Fatal("timer didn't fire again")
	}
}

