package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Serialized event loop.
 *
 * Description: The whole control plane runs on one goroutine.  Inbound
 *		frames from the transport reader, timer expirations and
 *		requests from adjacent modules are appended to this queue
 *		and executed one at a time, so none of the protocol state
 *		needs a lock.
 *
 *		The queue is a linked list guarded by a mutex with a wake
 *		channel for the consumer, the same shape as the received
 *		frame queue this daemon started from.
 *
 *---------------------------------------------------------------*/

import (
	"sync"
)

type loop_item_s struct {
	nextp *loop_item_s
	name  string
	fn    func()
}

type event_loop_t struct {
	mu         sync.Mutex
	queue_head *loop_item_s

	wake_up_chan chan struct{}
	is_waiting   bool

	stop_requested bool

	/* To detect leaks of queue items. */
	s_new_count    int
	s_delete_count int
}

func event_loop_new() *event_loop_t {
	return &event_loop_t{
		wake_up_chan: make(chan struct{}, 1),
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        post
 *
 * Purpose:     Append work to the end of the queue.
 *		Safe to call from any goroutine.
 *
 * Inputs:	name	- Short tag for diagnostics.
 *
 *		fn	- Executed later on the loop goroutine.
 *
 *-----------------------------------------------------------------*/

func (el *event_loop_t) post(name string, fn func()) {
	var pnew = &loop_item_s{name: name, fn: fn}

	el.mu.Lock()
	el.s_new_count++

	var queue_length int
	if el.queue_head == nil {
		el.queue_head = pnew
		queue_length = 1
	} else {
		queue_length = 2 /* head + new one */
		var plast = el.queue_head
		for plast.nextp != nil {
			plast = plast.nextp
			queue_length++
		}
		plast.nextp = pnew
	}
	var waiting = el.is_waiting
	el.mu.Unlock()

	if queue_length > 50 {
		log_warningf("Event queue is out of control. Length=%d. Loop goroutine is probably frozen.", queue_length)
	}

	if waiting {
		select {
		case el.wake_up_chan <- struct{}{}:
		default:
		}
	}
}

func (el *event_loop_t) remove() *loop_item_s {
	el.mu.Lock()
	var result *loop_item_s
	if el.queue_head != nil {
		result = el.queue_head
		el.queue_head = el.queue_head.nextp
		el.s_delete_count++
	}
	el.mu.Unlock()
	return result
}

/*-------------------------------------------------------------------
 *
 * Name:        run
 *
 * Purpose:     Consume the queue until stop() is called and the
 *		queue has drained.
 *		This is the daemon's main goroutine.
 *
 *-----------------------------------------------------------------*/

func (el *event_loop_t) run() {
	for {
		var item = el.remove()

		if item == nil {
			el.mu.Lock()
			if el.stop_requested {
				el.mu.Unlock()
				return
			}
			if el.queue_head != nil {
				// Arrived between remove() and here.
				el.mu.Unlock()
				continue
			}
			el.is_waiting = true
			el.mu.Unlock()

			<-el.wake_up_chan

			el.mu.Lock()
			el.is_waiting = false
			el.mu.Unlock()
			continue
		}

		item.fn()

		el.mu.Lock()
		var stop = el.stop_requested && el.queue_head == nil
		el.mu.Unlock()
		if stop {
			return
		}
	}
}

// stop lets run() return once the queue has drained.
func (el *event_loop_t) stop() {
	el.mu.Lock()
	el.stop_requested = true
	var waiting = el.is_waiting
	el.mu.Unlock()

	if waiting {
		select {
		case el.wake_up_chan <- struct{}{}:
		default:
		}
	}
}

// run_pending executes queued work synchronously on the caller's
// goroutine.  Test helper; the daemon uses run().
func (el *event_loop_t) run_pending() int {
	var n = 0
	for {
		var item = el.remove()
		if item == nil {
			return n
		}
		item.fn()
		n++
	}
}
