//go:build cpc_legacy_upoll

package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Unnumbered-poll transmission mode, for secondaries too
 *		old to acknowledge polled information frames.
 *
 * Description: Commands travel as unnumbered frames with the poll bit
 *		and information frames are disabled on the endpoint.
 *		There is no link level acknowledgement, so the
 *		retransmission timer is armed immediately at issue time.
 *
 *---------------------------------------------------------------*/

const system_poll_mode = "unnumbered-poll"

const system_open_flags = OPEN_EP_FLAG_UFRAME_ENABLE | OPEN_EP_FLAG_IFRAME_DISABLE

func (sys *system_endpoint_t) register_poll_ack_hook() {
	// No poll ack in this mode.
}

func (sys *system_endpoint_t) transmit_command(cmd *sys_command_t) {
	if err := sys.core.write(EP_SYSTEM, cmd.buffer, FLAG_UNNUMBERED_POLL); err != nil {
		fatal_f("[%s] %s seq=%d: transmit failed: %s", cmd.trace_id, cmd.command_id, cmd.command_seq, err)
	}
	sys.arm_retry_timer(cmd)
}

func (sys *system_endpoint_t) retransmit_command(cmd *sys_command_t) {
	if err := sys.core.write(EP_SYSTEM, cmd.buffer, FLAG_UNNUMBERED_POLL); err != nil {
		fatal_f("[%s] %s seq=%d: retransmit failed: %s", cmd.trace_id, cmd.command_id, cmd.command_seq, err)
	}
	sys.arm_retry_timer(cmd)
}
