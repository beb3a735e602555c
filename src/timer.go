package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	One-shot timers delivered on the event loop.
 *
 * Description: The retry machinery needs monotonic one-shot timers
 *		whose expiration runs serialized with everything else.
 *		The service is an interface so protocol tests can drive
 *		time by hand instead of sleeping.
 *
 *		Pairing rule: a timer is live from one_shot (or rearm)
 *		until it fires or is cancelled, whichever comes first.
 *		live() exposes the count of armed timers so the retry
 *		machinery's timer hygiene can be checked.
 *
 *---------------------------------------------------------------*/

import (
	"sync"
	"time"
)

type sys_timer_t interface {
	// rearm schedules the next expiration, replacing a pending one or
	// reviving a timer that already fired.
	rearm(d time.Duration)

	// cancel stops a pending expiration.  Idempotent.  After cancel
	// the callback will not run until a rearm.
	cancel()
}

type timer_service_t interface {
	// one_shot arms a timer that invokes fire once on the event loop
	// after d.  The handle stays usable for rearm/cancel afterwards.
	one_shot(d time.Duration, fire func()) sys_timer_t

	// live returns the number of currently armed timers.
	live() int
}

/* Production implementation on top of the runtime timer, expirations
   posted to the event loop. */

type loop_timer_service_t struct {
	loop *event_loop_t

	mu         sync.Mutex
	live_count int
}

type loop_timer_t struct {
	svc  *loop_timer_service_t
	fire func()

	mu    sync.Mutex
	t     *time.Timer
	armed bool
	gen   int /* invalidates posted expirations from a superseded arming */
}

func timer_service_new(loop *event_loop_t) *loop_timer_service_t {
	return &loop_timer_service_t{loop: loop}
}

func (svc *loop_timer_service_t) one_shot(d time.Duration, fire func()) sys_timer_t {
	var lt = &loop_timer_t{svc: svc, fire: fire, armed: true}

	svc.adjust_live(1)
	lt.t = time.AfterFunc(d, func() { lt.expired(0) })
	return lt
}

func (svc *loop_timer_service_t) live() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.live_count
}

func (svc *loop_timer_service_t) adjust_live(delta int) {
	svc.mu.Lock()
	svc.live_count += delta
	svc.mu.Unlock()
}

func (lt *loop_timer_t) expired(gen int) {
	// Runs on the runtime timer goroutine; hop to the loop.  The
	// armed/generation check repeats there because a cancel or rearm
	// can slip in between the hop and the execution.
	lt.svc.loop.post("timer", func() {
		lt.mu.Lock()
		if !lt.armed || lt.gen != gen {
			lt.mu.Unlock()
			return
		}
		lt.armed = false
		lt.mu.Unlock()

		lt.svc.adjust_live(-1)
		lt.fire()
	})
}

func (lt *loop_timer_t) rearm(d time.Duration) {
	lt.mu.Lock()
	if !lt.armed {
		lt.armed = true
		lt.svc.adjust_live(1)
	}
	lt.gen++
	var gen = lt.gen
	lt.t.Stop()
	lt.t = time.AfterFunc(d, func() { lt.expired(gen) })
	lt.mu.Unlock()
}

func (lt *loop_timer_t) cancel() {
	lt.mu.Lock()
	if !lt.armed {
		lt.mu.Unlock()
		return
	}
	lt.armed = false
	lt.gen++
	lt.t.Stop()
	lt.mu.Unlock()

	lt.svc.adjust_live(-1)
}
