package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	The system endpoint: the control plane of the link.
 *
 * Description: Endpoint 0 is reserved for commands between the primary
 *		and the secondary: liveness checks, device reset and a
 *		property get/set protocol used to negotiate capabilities
 *		and mirror endpoint state.
 *
 *		Commands are fire and forget from the caller's point of
 *		view; completion is delivered through a handler supplied
 *		at issue time.  Each in-flight command sits in an ordered
 *		table keyed by a wrapping 8 bit sequence number, owns its
 *		serialized frame and a retransmission timer, and is
 *		removed exactly once: on reply, on terminal timeout, or
 *		when the endpoint is reset.
 *
 *		Everything here runs on the event loop; there is no
 *		locking because there is no concurrent mutation.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"time"

	"github.com/rs/xid"
)

/*
 * Completion status reported to command handlers.
 */

type sys_status_t int

const (
	STATUS_OK          sys_status_t = iota /* Final reply received. */
	STATUS_IN_PROGRESS                     /* Final reply received after at least one retransmit. */
	STATUS_TIMEOUT                         /* Retries exhausted. */
	STATUS_ABORT                           /* Endpoint was reset while the command was in flight. */
)

func (s sys_status_t) String() string {
	switch s {
	case STATUS_OK:
		return "OK"
	case STATUS_IN_PROGRESS:
		return "IN_PROGRESS"
	case STATUS_TIMEOUT:
		return "TIMEOUT"
	case STATUS_ABORT:
		return "ABORT"
	}
	return "UNKNOWN"
}

type sys_phase_t int

const (
	PHASE_ISSUED sys_phase_t = iota
	PHASE_POLL_ACKED
	PHASE_FINALIZING
	PHASE_DEAD
)

/*
 * Per-kind completion handlers.  A command stores exactly one of
 * these, matching its command id, so a reply can never be delivered
 * through the wrong signature.
 */

type noop_handler_t func(cmd *sys_command_t, status sys_status_t)
type reset_handler_t func(cmd *sys_command_t, status sys_status_t, reset_status uint32)
type property_handler_t func(cmd *sys_command_t, prop property_id_t, value []byte, status sys_status_t)

type sys_handler_u struct {
	on_noop     noop_handler_t
	on_reset    reset_handler_t
	on_property property_handler_t
}

/*
 * In-flight command descriptor.  Owned by the command table from
 * insert until removal; the buffer stays valid for that whole window.
 */

type sys_command_t struct {
	command_id  sys_cmd_id_t
	command_seq byte

	buffer  []byte /* Serialized frame, freed on removal. */
	handler sys_handler_u

	/* For property commands, echoed to the handler on timeout/abort
	   when there is no reply to take it from. */
	property_id property_id_t

	retry_count   int
	retry_timeout time.Duration

	status sys_status_t
	phase  sys_phase_t
	timer  sys_timer_t /* Non-nil exactly while armed. */

	trace_id xid.ID /* Log correlation. */
}

type prop_last_status_cb_t func(status uint32, raw_status uint32)

type system_endpoint_t struct {
	core   core_t
	timers timer_service_t

	/* Ordered, tail insert, O(n) lookup.  Small by design: the
	   number of commands in flight is bounded by the retry windows. */
	commands []*sys_command_t

	next_command_seq byte

	prop_last_status_callbacks []prop_last_status_cb_t

	/* Set when we ask the secondary to reboot, so the reset
	   notification that follows is expected.  Cleared when the
	   reset reply arrives. */
	ignore_reset_reason bool
}

/*-------------------------------------------------------------------
 *
 * Name:        system_open
 *
 * Purpose:     Open the system endpoint on Core and register the
 *		inbound hooks.  Called once at startup; the reset
 *		controller reuses the same path when it reopens.
 *
 *-----------------------------------------------------------------*/

func system_open(core core_t, timers timer_service_t) (*system_endpoint_t, error) {
	var sys = &system_endpoint_t{
		core:   core,
		timers: timers,
	}

	if err := sys.attach(); err != nil {
		return nil, err
	}

	log_infof("System endpoint open (%s mode)", system_poll_mode)
	return sys, nil
}

func (sys *system_endpoint_t) attach() error {
	if err := sys.core.open_endpoint(EP_SYSTEM, system_open_flags, 1); err != nil {
		return err
	}

	sys.core.set_on_final(EP_SYSTEM, sys.on_final)
	sys.core.set_on_uframe_receive(EP_SYSTEM, sys.on_unsolicited)
	sys.register_poll_ack_hook()

	return nil
}

/* Command table. */

func (sys *system_endpoint_t) find_by_seq(seq byte) *sys_command_t {
	for _, cmd := range sys.commands {
		if cmd.command_seq == seq {
			return cmd
		}
	}
	return nil
}

func (sys *system_endpoint_t) remove_command(cmd *sys_command_t) {
	for i, c := range sys.commands {
		if c == cmd {
			sys.commands = append(sys.commands[:i], sys.commands[i+1:]...)
			break
		}
	}

	if cmd.timer != nil {
		cmd.timer.cancel()
		cmd.timer = nil
	}
	cmd.buffer = nil
	cmd.phase = PHASE_DEAD
}

/*-------------------------------------------------------------------
 *
 * Name:        issue_command
 *
 * Purpose:     Allocate a descriptor, stamp the next sequence number,
 *		insert at the tail of the table and transmit.
 *
 * Description: The sequence counter post-increments and wraps.  If the
 *		new value collides with a live descriptor (255 commands
 *		in flight, or a very slow one), the old command is
 *		completed with STATUS_ABORT and evicted so the invariant
 *		of one live descriptor per sequence number holds.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) issue_command(id sys_cmd_id_t, payload []byte, handler sys_handler_u, prop property_id_t, retries int, timeout time.Duration) *sys_command_t {
	var seq = sys.next_command_seq
	sys.next_command_seq++

	if old := sys.find_by_seq(seq); old != nil {
		log_warningf("[%s] seq %d wrapped onto a live command, aborting the old one", old.trace_id, seq)
		sys.complete_command(old, STATUS_ABORT, 0, nil)
		sys.remove_command(old)
	}

	var cmd = &sys_command_t{
		command_id:    id,
		command_seq:   seq,
		buffer:        sys_cmd_encode(id, seq, payload),
		handler:       handler,
		property_id:   prop,
		retry_count:   retries,
		retry_timeout: timeout,
		status:        STATUS_OK,
		phase:         PHASE_ISSUED,
		trace_id:      xid.New(),
	}

	sys.commands = append(sys.commands, cmd)

	log_tracef("[%s] %s seq=%d retries=%d timeout=%s", cmd.trace_id, id, seq, retries, timeout)
	stats_commands_sent.WithLabelValues(id.String()).Inc()

	sys.transmit_command(cmd)
	sys.core.process_transmit_queue()

	return cmd
}

func (sys *system_endpoint_t) arm_retry_timer(cmd *sys_command_t) {
	var seq = cmd.command_seq
	cmd.timer = sys.timers.one_shot(cmd.retry_timeout, func() {
		sys.on_retry_timer(seq)
	})
}

/*-------------------------------------------------------------------
 *
 * Name:        cmd_noop / cmd_reboot / cmd_property_get / cmd_property_set
 *
 * Purpose:     Public command issuers.  All fire and forget; the
 *		handler runs later on the event loop, exactly once.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) cmd_noop(h noop_handler_t, retries int, timeout time.Duration) {
	sys.issue_command(CMD_SYSTEM_NOOP, nil, sys_handler_u{on_noop: h}, 0, retries, timeout)
}

func (sys *system_endpoint_t) cmd_reboot(h reset_handler_t, retries int, timeout time.Duration) {
	sys.ignore_reset_reason = true
	sys.issue_command(CMD_SYSTEM_RESET, nil, sys_handler_u{on_reset: h}, 0, retries, timeout)
}

func (sys *system_endpoint_t) cmd_property_get(h property_handler_t, prop property_id_t, retries int, timeout time.Duration) {
	var payload = make([]byte, SYS_PROP_ID_LEN)
	binary.LittleEndian.PutUint32(payload, uint32(prop))
	sys.issue_command(CMD_SYSTEM_PROP_VALUE_GET, payload, sys_handler_u{on_property: h}, prop, retries, timeout)
}

func (sys *system_endpoint_t) cmd_property_set(h property_handler_t, retries int, timeout time.Duration, prop property_id_t, value []byte) {
	if len(value) == 0 {
		fatal_f("property_set of 0x%08X with an empty value", uint32(prop))
		return
	}
	sys.issue_command(CMD_SYSTEM_PROP_VALUE_SET, sys_prop_payload_encode(prop, value), sys_handler_u{on_property: h}, prop, retries, timeout)
}

func (sys *system_endpoint_t) register_unsolicited_prop_last_status_callback(cb prop_last_status_cb_t) {
	sys.prop_last_status_callbacks = append(sys.prop_last_status_callbacks, cb)
}

/*-------------------------------------------------------------------
 *
 * Name:        on_retry_timer
 *
 * Purpose:     A command's retransmission timer expired.  Retransmit
 *		while retries remain, otherwise complete with TIMEOUT.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) on_retry_timer(seq byte) {
	var cmd = sys.find_by_seq(seq)
	if cmd == nil {
		// Raced with a reply or a reset; the timer lost.
		return
	}

	if cmd.timer != nil {
		cmd.timer.cancel()
		cmd.timer = nil
	}

	if cmd.retry_count > 0 {
		cmd.retry_count--
		cmd.status = STATUS_IN_PROGRESS
		stats_retransmits.Inc()
		log_tracef("[%s] %s seq=%d retransmit, %d retries left", cmd.trace_id, cmd.command_id, cmd.command_seq, cmd.retry_count)

		sys.retransmit_command(cmd)
		sys.core.process_transmit_queue()
		return
	}

	log_warningf("[%s] %s seq=%d timed out", cmd.trace_id, cmd.command_id, cmd.command_seq)
	stats_timeouts.Inc()
	cmd.phase = PHASE_DEAD
	sys.complete_command(cmd, STATUS_TIMEOUT, 0, nil)
	sys.remove_command(cmd)
}

/*-------------------------------------------------------------------
 *
 * Name:        complete_command
 *
 * Purpose:     Invoke the command's final handler through the tagged
 *		union.  Used for the no-reply terminations (timeout,
 *		abort); the reply path dispatches directly because it
 *		has reply data to pass.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) complete_command(cmd *sys_command_t, status sys_status_t, reset_status uint32, value []byte) {
	switch {
	case cmd.handler.on_noop != nil:
		cmd.handler.on_noop(cmd, status)
	case cmd.handler.on_reset != nil:
		cmd.handler.on_reset(cmd, status, reset_status)
	case cmd.handler.on_property != nil:
		cmd.handler.on_property(cmd, cmd.property_id, value, status)
	default:
		fatal_f("[%s] command %s has no completion handler", cmd.trace_id, cmd.command_id)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        on_final
 *
 * Purpose:     A reply arrived from the secondary.  Match it to the
 *		in-flight command, dispatch by command kind, clean up.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) on_final(ep byte, buf []byte) {
	var hdr, payload, decodeErr = sys_cmd_decode(buf)
	if decodeErr != nil {
		fatal_f("Reply on endpoint #%d: %s", ep, decodeErr)
		return
	}

	var cmd = sys.find_by_seq(hdr.command_seq)
	if cmd == nil {
		// Legitimate around a reset: the reply to a drained
		// command can still be in flight.
		log_warningf("Reply %s seq=%d matches no command, dropping", hdr.command_id, hdr.command_seq)
		return
	}

	cmd.phase = PHASE_FINALIZING
	if cmd.timer != nil {
		cmd.timer.cancel()
		cmd.timer = nil
	}

	switch hdr.command_id {
	case CMD_SYSTEM_NOOP:
		if cmd.handler.on_noop == nil {
			fatal_f("[%s] NOOP reply for a %s command", cmd.trace_id, cmd.command_id)
			return
		}
		log_tracef("[%s] NOOP seq=%d done, %s", cmd.trace_id, cmd.command_seq, cmd.status)
		cmd.handler.on_noop(cmd, cmd.status)

	case CMD_SYSTEM_RESET:
		if cmd.handler.on_reset == nil {
			fatal_f("[%s] RESET reply for a %s command", cmd.trace_id, cmd.command_id)
			return
		}
		if len(payload) != 4 {
			fatal_f("[%s] RESET reply with %d payload bytes, want 4", cmd.trace_id, len(payload))
			return
		}
		var reset_status = binary.LittleEndian.Uint32(payload)
		sys.ignore_reset_reason = false
		log_tracef("[%s] RESET seq=%d done, status=0x%08X", cmd.trace_id, cmd.command_seq, reset_status)
		cmd.handler.on_reset(cmd, cmd.status, reset_status)

	case CMD_SYSTEM_PROP_VALUE_IS:
		if cmd.handler.on_property == nil {
			fatal_f("[%s] PROP_VALUE_IS reply for a %s command", cmd.trace_id, cmd.command_id)
			return
		}
		var prop, value, propErr = sys_prop_payload_decode(payload)
		if propErr != nil {
			fatal_f("[%s] PROP_VALUE_IS reply: %s", cmd.trace_id, propErr)
			return
		}
		log_tracef("[%s] PROP_VALUE_IS seq=%d prop=0x%08X len=%d, %s", cmd.trace_id, cmd.command_seq, uint32(prop), len(value), cmd.status)
		cmd.handler.on_property(cmd, prop, value, cmd.status)

	case CMD_SYSTEM_PROP_VALUE_GET, CMD_SYSTEM_PROP_VALUE_SET:
		fatal_f("Received %s as a reply; that command only travels primary to secondary", hdr.command_id)
		return

	default:
		fatal_f("Received reply with unknown command id 0x%02X", byte(hdr.command_id))
		return
	}

	sys.remove_command(cmd)
}

/*-------------------------------------------------------------------
 *
 * Name:        on_unsolicited
 *
 * Purpose:     The secondary announced a property without being asked.
 *		Two kinds exist: the last status word (typically right
 *		after a reboot), fanned out to registered listeners, and
 *		endpoint state changes, which drive close reconciliation.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) on_unsolicited(ep byte, buf []byte) {
	var hdr, payload, decodeErr = sys_cmd_decode(buf)
	if decodeErr != nil {
		fatal_f("Unsolicited frame on endpoint #%d: %s", ep, decodeErr)
		return
	}

	if hdr.command_id != CMD_SYSTEM_PROP_VALUE_IS {
		fatal_f("Unsolicited %s frame; only PROP_VALUE_IS is allowed", hdr.command_id)
		return
	}

	if len(payload) < SYS_PROP_ID_LEN {
		fatal_f("Unsolicited PROP_VALUE_IS with %d payload bytes", len(payload))
		return
	}
	var prop = property_id_t(binary.LittleEndian.Uint32(payload))
	var wire_value = payload[SYS_PROP_ID_LEN:]

	switch {
	case prop == PROP_LAST_STATUS:
		if len(wire_value) < 4 {
			fatal_f("PROP_LAST_STATUS with %d value bytes, want 4", len(wire_value))
			return
		}
		stats_unsolicited.WithLabelValues("last_status").Inc()

		var status, raw = status_word_decode(wire_value)
		log_infof("Secondary reports last status 0x%08X (expected=%v)", status, sys.ignore_reset_reason)

		for _, cb := range sys.prop_last_status_callbacks {
			cb(status, raw)
		}

	case is_prop_endpoint_state(prop):
		stats_unsolicited.WithLabelValues("endpoint_state").Inc()
		sys.reconcile_endpoint_close(endpoint_id_from_property(prop))

	default:
		fatal_f("Unsolicited notification for unexpected property 0x%08X", uint32(prop))
		return
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        reconcile_endpoint_close
 *
 * Purpose:     The secondary says endpoint n changed state.  If local
 *		applications are connected to an endpoint we believe is
 *		open, put it in error so they find out, then confirm the
 *		closed state back so both sides agree.
 *
 *-----------------------------------------------------------------*/

const close_reconcile_retries = 5
const close_reconcile_timeout = 100 * time.Millisecond

func (sys *system_endpoint_t) reconcile_endpoint_close(endpoint_id byte) {
	if !sys.core.endpoint_has_listeners(endpoint_id) {
		log_tracef("ep #%d: state change with no local listeners, nothing to do", endpoint_id)
		return
	}
	if sys.core.endpoint_state(endpoint_id) != EP_STATE_OPEN {
		log_tracef("ep #%d: state change while already %s", endpoint_id, sys.core.endpoint_state(endpoint_id))
		return
	}

	sys.core.set_endpoint_in_error(endpoint_id, EP_STATE_ERROR_DEST_UNREACHABLE)

	sys.cmd_property_set(sys.on_close_reconciled,
		close_reconcile_retries, close_reconcile_timeout,
		prop_endpoint_state_id(endpoint_id),
		prop_value_u32(uint32(EP_STATE_CLOSED)))
}

func (sys *system_endpoint_t) on_close_reconciled(cmd *sys_command_t, prop property_id_t, value []byte, status sys_status_t) {
	var endpoint_id = endpoint_id_from_property(prop)
	switch status {
	case STATUS_OK, STATUS_IN_PROGRESS:
		log_tracef("[%s] ep #%d: close acknowledged by secondary", cmd.trace_id, endpoint_id)
	default:
		log_warningf("[%s] ep #%d: close reconciliation failed, %s", cmd.trace_id, endpoint_id, status)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        reset_system_endpoint
 *
 * Purpose:     Tear the system endpoint down and bring it back.  Used
 *		when the secondary is known to have reset: whatever was
 *		in flight can never complete.
 *
 * Description: Every drained command is completed with STATUS_ABORT
 *		before its resources go away, so no caller is left
 *		waiting forever.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) reset_system_endpoint() error {
	log_infof("Resetting system endpoint, %d commands in flight", len(sys.commands))
	stats_endpoint_resets.Inc()

	if err := sys.core.write(EP_SYSTEM, nil, FLAG_UNNUMBERED_RESET_COMMAND); err != nil {
		return err
	}
	sys.core.process_transmit_queue()

	/* Drain.  Iterate over a snapshot: handlers may issue new
	   commands and those must survive. */
	var drained = sys.commands
	sys.commands = nil
	for _, cmd := range drained {
		log_warningf("[%s] %s seq=%d dropped by endpoint reset", cmd.trace_id, cmd.command_id, cmd.command_seq)
		if cmd.timer != nil {
			cmd.timer.cancel()
			cmd.timer = nil
		}
		cmd.phase = PHASE_DEAD
		sys.complete_command(cmd, STATUS_ABORT, 0, nil)
		cmd.buffer = nil
	}

	if err := sys.core.close_endpoint(EP_SYSTEM, false, true); err != nil {
		return err
	}

	return sys.attach()
}
