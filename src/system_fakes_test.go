package cpcd

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

/* Test double for Core: records everything, lets the test deliver
   inbound events by hand. */

type fake_write_t struct {
	buf   []byte
	flags write_flags_t
}

type fake_core_t struct {
	open_count  int
	close_count int
	flush_count int

	writes []fake_write_t

	on_final    func(ep byte, buf []byte)
	on_uframe   func(ep byte, buf []byte)
	on_poll_ack func(ep byte, buf []byte)

	states    map[byte]ep_state_t
	listeners map[byte]bool

	error_calls []struct {
		ep    byte
		state ep_state_t
	}
}

func fake_core_new() *fake_core_t {
	return &fake_core_t{
		states:    make(map[byte]ep_state_t),
		listeners: make(map[byte]bool),
	}
}

func (fc *fake_core_t) open_endpoint(id byte, flags open_flags_t, tx_window int) error {
	fc.open_count++
	return nil
}

func (fc *fake_core_t) close_endpoint(id byte, notify_secondary bool, force bool) error {
	fc.close_count++
	return nil
}

func (fc *fake_core_t) set_on_final(id byte, cb func(ep byte, buf []byte)) { fc.on_final = cb }
func (fc *fake_core_t) set_on_uframe_receive(id byte, cb func(ep byte, buf []byte)) {
	fc.on_uframe = cb
}
func (fc *fake_core_t) set_on_poll_acknowledged(id byte, cb func(ep byte, buf []byte)) {
	fc.on_poll_ack = cb
}

func (fc *fake_core_t) write(id byte, buf []byte, flags write_flags_t) error {
	fc.writes = append(fc.writes, fake_write_t{buf: buf, flags: flags})
	return nil
}

func (fc *fake_core_t) process_transmit_queue() { fc.flush_count++ }

func (fc *fake_core_t) endpoint_state(id byte) ep_state_t { return fc.states[id] }

func (fc *fake_core_t) set_endpoint_in_error(id byte, state ep_state_t) {
	fc.states[id] = state
	fc.error_calls = append(fc.error_calls, struct {
		ep    byte
		state ep_state_t
	}{id, state})
}

func (fc *fake_core_t) endpoint_has_listeners(id byte) bool { return fc.listeners[id] }

func (fc *fake_core_t) last_write(t *testing.T) fake_write_t {
	t.Helper()
	require.NotEmpty(t, fc.writes)
	return fc.writes[len(fc.writes)-1]
}

// ack_write simulates the link level acknowledgement of a polled write.
func (fc *fake_core_t) ack_write(w fake_write_t) {
	fc.on_poll_ack(EP_SYSTEM, w.buf)
}

/* Test double for the timer service: time moves when the test says so. */

type fake_timer_t struct {
	d     time.Duration
	fire  func()
	armed bool
}

func (t *fake_timer_t) rearm(d time.Duration) { t.d = d; t.armed = true }
func (t *fake_timer_t) cancel()               { t.armed = false }

type fake_timer_service_t struct {
	timers []*fake_timer_t
}

func (s *fake_timer_service_t) one_shot(d time.Duration, fire func()) sys_timer_t {
	var ft = &fake_timer_t{d: d, fire: fire, armed: true}
	s.timers = append(s.timers, ft)
	return ft
}

func (s *fake_timer_service_t) live() int {
	var n = 0
	for _, ft := range s.timers {
		if ft.armed {
			n++
		}
	}
	return n
}

// expire fires every armed timer once, as if its interval elapsed.
func (s *fake_timer_service_t) expire(t *testing.T) {
	t.Helper()
	var armed []*fake_timer_t
	for _, ft := range s.timers {
		if ft.armed {
			armed = append(armed, ft)
		}
	}
	require.NotEmpty(t, armed, "expire with no armed timer")
	for _, ft := range armed {
		ft.armed = false
		ft.fire()
	}
}

// Builds the final reply frame for a command the fake core saw.
func reply_to(w fake_write_t, id sys_cmd_id_t, payload []byte) []byte {
	return sys_cmd_encode(id, w.buf[1], payload)
}

func intercept_fatal(t *testing.T) *[]string {
	t.Helper()
	var calls []string
	var prev = fatal_f
	fatal_f = func(format string, args ...any) {
		calls = append(calls, fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { fatal_f = prev })
	return &calls
}
