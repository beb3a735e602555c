//go:build !cpc_legacy_upoll

package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Information-poll transmission mode (default).
 *
 * Description: Commands travel as information frames with the poll
 *		bit.  The retransmission timer is not armed at issue
 *		time; it starts only once Core reports the secondary has
 *		acknowledged the poll at link level.  That way a slow
 *		first delivery does not trigger a retransmit storm while
 *		the frame is still on its way.
 *
 *---------------------------------------------------------------*/

const system_poll_mode = "information-poll"

const system_open_flags = OPEN_EP_FLAG_UFRAME_ENABLE

func (sys *system_endpoint_t) register_poll_ack_hook() {
	sys.core.set_on_poll_acknowledged(EP_SYSTEM, sys.on_poll_acknowledged)
}

func (sys *system_endpoint_t) transmit_command(cmd *sys_command_t) {
	if err := sys.core.write(EP_SYSTEM, cmd.buffer, FLAG_INFORMATION_POLL); err != nil {
		fatal_f("[%s] %s seq=%d: transmit failed: %s", cmd.trace_id, cmd.command_id, cmd.command_seq, err)
	}
	// Timer armed from on_poll_acknowledged.
}

/*-------------------------------------------------------------------
 *
 * Name:        on_poll_acknowledged
 *
 * Purpose:     The secondary received our polled frame.  Now the
 *		per-attempt timer starts counting.
 *
 * Inputs:	buf	- The frame buffer originally handed to Core;
 *			  byte 1 is the command sequence number.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) on_poll_acknowledged(ep byte, buf []byte) {
	if len(buf) < SYS_CMD_HEADER_LEN {
		log_warningf("Poll ack for a %d byte frame, ignoring", len(buf))
		return
	}

	var cmd = sys.find_by_seq(buf[1])
	if cmd == nil {
		log_warningf("Poll ack for seq %d which is no longer in flight", buf[1])
		return
	}

	if cmd.phase != PHASE_ISSUED {
		log_warningf("[%s] duplicate poll ack for seq %d ignored", cmd.trace_id, cmd.command_seq)
		return
	}

	cmd.phase = PHASE_POLL_ACKED
	sys.arm_retry_timer(cmd)
	log_tracef("[%s] %s seq=%d poll acked, timer armed for %s", cmd.trace_id, cmd.command_id, cmd.command_seq, cmd.retry_timeout)
}

/*-------------------------------------------------------------------
 *
 * Name:        retransmit_command
 *
 * Purpose:     Timer expired with retries left.  The descriptor moves
 *		to the tail of the table (issuance order is preserved
 *		for the new attempt) and the frame is submitted again
 *		with the same sequence number.  The timer is armed only
 *		after the next poll ack.
 *
 *-----------------------------------------------------------------*/

func (sys *system_endpoint_t) retransmit_command(cmd *sys_command_t) {
	for i, c := range sys.commands {
		if c == cmd {
			sys.commands = append(sys.commands[:i], sys.commands[i+1:]...)
			break
		}
	}
	sys.commands = append(sys.commands, cmd)

	cmd.phase = PHASE_ISSUED
	sys.transmit_command(cmd)
}
