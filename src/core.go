package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Core link layer, as seen from the control plane.
 *
 * Description: Core multiplexes logical endpoints over one serial
 *		link.  The system endpoint consumes it through the
 *		core_t interface below: open/close an endpoint, register
 *		inbound hooks, hand frames to the transmit queue.
 *
 *		The implementation here carries exactly the frame classes
 *		the control plane needs:
 *
 *		  - information frame with the poll bit (reliable command,
 *		    acked at link level, reply carries the final bit)
 *		  - unnumbered frame with the poll bit (fire and forget
 *		    command for early firmware)
 *		  - unnumbered reset
 *
 *		Data plane re-sequencing and windows beyond 1 are not
 *		implemented.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sync"
)

const EP_SYSTEM byte = 0

type open_flags_t uint8

const (
	OPEN_EP_FLAG_NONE           open_flags_t = 0
	OPEN_EP_FLAG_UFRAME_ENABLE  open_flags_t = 1 << 0
	OPEN_EP_FLAG_IFRAME_DISABLE open_flags_t = 1 << 1
)

type write_flags_t uint8

const (
	FLAG_INFORMATION_POLL write_flags_t = 1 << iota
	FLAG_UNNUMBERED_POLL
	FLAG_UNNUMBERED_RESET_COMMAND
)

type core_t interface {
	open_endpoint(id byte, flags open_flags_t, tx_window int) error
	close_endpoint(id byte, notify_secondary bool, force bool) error

	set_on_final(id byte, cb func(ep byte, buf []byte))
	set_on_uframe_receive(id byte, cb func(ep byte, buf []byte))

	// The poll-ack hook fires when the secondary acknowledges a polled
	// information frame at link level, before any protocol reply.  The
	// callback receives the buffer originally given to write so the
	// caller can recover which command was acked.
	set_on_poll_acknowledged(id byte, cb func(ep byte, buf []byte))

	write(id byte, buf []byte, flags write_flags_t) error
	process_transmit_queue()
	endpoint_state(id byte) ep_state_t
	set_endpoint_in_error(id byte, state ep_state_t)
	endpoint_has_listeners(id byte) bool
}

/* Implementation. */

type core_endpoint_s struct {
	id    byte
	state ep_state_t
	flags open_flags_t

	on_final             func(ep byte, buf []byte)
	on_uframe_receive    func(ep byte, buf []byte)
	on_poll_acknowledged func(ep byte, buf []byte)

	tx_seq byte /* link sequence for outbound iframes, 3 bits */

	/* Polled iframes transmitted and not yet acked, oldest first. */
	pending_polls [][]byte

	listener_count int
}

type frame_writer_t interface {
	write_frame(frame []byte) error
}

type core_impl_t struct {
	mu        sync.Mutex
	endpoints map[byte]*core_endpoint_s
	transport frame_writer_t

	tx_queue [][]byte

	deframer link_deframer_t
}

func core_new(transport frame_writer_t) *core_impl_t {
	return &core_impl_t{
		endpoints: make(map[byte]*core_endpoint_s),
		transport: transport,
	}
}

func (c *core_impl_t) lookup(id byte) *core_endpoint_s {
	return c.endpoints[id]
}

func (c *core_impl_t) open_endpoint(id byte, flags open_flags_t, tx_window int) error {
	if tx_window != 1 {
		return fmt.Errorf("tx_window %d not supported, only 1", tx_window)
	}
	if ep := c.lookup(id); ep != nil && ep.state != EP_STATE_CLOSED {
		return fmt.Errorf("endpoint %d already open", id)
	}

	c.endpoints[id] = &core_endpoint_s{
		id:    id,
		state: EP_STATE_OPEN,
		flags: flags,
	}

	log_tracef("ep #%d: opened (flags=0x%02x)", id, byte(flags))
	return nil
}

func (c *core_impl_t) close_endpoint(id byte, notify_secondary bool, force bool) error {
	var ep = c.lookup(id)
	if ep == nil {
		return fmt.Errorf("endpoint %d not open", id)
	}

	if notify_secondary {
		// Tell the other side so it can mirror the state change.
		var payload = sys_prop_payload_encode(prop_endpoint_state_id(id), prop_value_u32(uint32(EP_STATE_CLOSED)))
		var frame = link_frame_encode(EP_SYSTEM, link_control(LINK_FRAME_UFRAME, false, 0), sys_cmd_encode(CMD_SYSTEM_PROP_VALUE_SET, 0, payload))
		c.enqueue(frame)
	}

	ep.state = EP_STATE_CLOSED
	ep.pending_polls = nil
	if force {
		ep.on_final = nil
		ep.on_uframe_receive = nil
		ep.on_poll_acknowledged = nil
	}

	log_tracef("ep #%d: closed", id)
	return nil
}

func (c *core_impl_t) set_on_final(id byte, cb func(ep byte, buf []byte)) {
	if ep := c.lookup(id); ep != nil {
		ep.on_final = cb
	}
}

func (c *core_impl_t) set_on_uframe_receive(id byte, cb func(ep byte, buf []byte)) {
	if ep := c.lookup(id); ep != nil {
		ep.on_uframe_receive = cb
	}
}

func (c *core_impl_t) set_on_poll_acknowledged(id byte, cb func(ep byte, buf []byte)) {
	if ep := c.lookup(id); ep != nil {
		ep.on_poll_acknowledged = cb
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        write
 *
 * Purpose:     Frame a payload for an endpoint and queue it for
 *		transmission.
 *
 * Inputs:	flags	- Exactly one of the three frame classes.
 *
 *-----------------------------------------------------------------*/

func (c *core_impl_t) write(id byte, buf []byte, flags write_flags_t) error {
	var ep = c.lookup(id)
	if ep == nil || ep.state == EP_STATE_CLOSED {
		return fmt.Errorf("write on endpoint %d which is not open", id)
	}

	var control byte
	switch flags {
	case FLAG_INFORMATION_POLL:
		if ep.flags&OPEN_EP_FLAG_IFRAME_DISABLE != 0 {
			return fmt.Errorf("iframe write on endpoint %d with iframes disabled", id)
		}
		control = link_control(LINK_FRAME_IFRAME, true, ep.tx_seq)
		ep.tx_seq = (ep.tx_seq + 1) & LINK_SEQ_MASK
		ep.pending_polls = append(ep.pending_polls, buf)
	case FLAG_UNNUMBERED_POLL:
		if ep.flags&OPEN_EP_FLAG_UFRAME_ENABLE == 0 {
			return fmt.Errorf("uframe write on endpoint %d without uframes enabled", id)
		}
		control = link_control(LINK_FRAME_UFRAME, true, 0)
	case FLAG_UNNUMBERED_RESET_COMMAND:
		control = link_control(LINK_FRAME_UFRAME_RESET, false, 0)
	default:
		return fmt.Errorf("write flags 0x%02x: exactly one frame class required", byte(flags))
	}

	c.enqueue(link_frame_encode(id, control, buf))
	return nil
}

func (c *core_impl_t) enqueue(frame []byte) {
	c.mu.Lock()
	c.tx_queue = append(c.tx_queue, frame)
	c.mu.Unlock()
}

func (c *core_impl_t) process_transmit_queue() {
	c.mu.Lock()
	var pending = c.tx_queue
	c.tx_queue = nil
	c.mu.Unlock()

	for _, frame := range pending {
		if err := c.transport.write_frame(frame); err != nil {
			log_errorf("Transmit failed, dropping %d queued bytes: %s", len(frame), err)
		}
	}
}

func (c *core_impl_t) endpoint_state(id byte) ep_state_t {
	var ep = c.lookup(id)
	if ep == nil {
		return EP_STATE_CLOSED
	}
	return ep.state
}

func (c *core_impl_t) set_endpoint_in_error(id byte, state ep_state_t) {
	var ep = c.lookup(id)
	if ep == nil {
		return
	}
	ep.state = state
	log_warningf("ep #%d: now in %s", id, state)
}

func (c *core_impl_t) endpoint_has_listeners(id byte) bool {
	var ep = c.lookup(id)
	return ep != nil && ep.listener_count > 0
}

// Connected local applications are tracked so endpoint-state
// reconciliation only touches endpoints somebody is using.
func (c *core_impl_t) add_endpoint_listener(id byte) {
	if ep := c.lookup(id); ep != nil {
		ep.listener_count++
	}
}

func (c *core_impl_t) remove_endpoint_listener(id byte) {
	if ep := c.lookup(id); ep != nil && ep.listener_count > 0 {
		ep.listener_count--
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        ingest
 *
 * Purpose:     Feed raw bytes from the transport reader.  Complete
 *		frames are dispatched to the owning endpoint's hooks.
 *		Must be called on the event loop.
 *
 *-----------------------------------------------------------------*/

func (c *core_impl_t) ingest(data []byte) {
	c.deframer.push(data, c.dispatch_frame)
}

func (c *core_impl_t) dispatch_frame(ep_id byte, control byte, payload []byte) {
	var ep = c.lookup(ep_id)
	if ep == nil || ep.state == EP_STATE_CLOSED {
		log_warningf("Dropping frame for endpoint #%d which is not open", ep_id)
		return
	}

	switch link_frame_type(control) {
	case LINK_FRAME_SFRAME_ACK:
		if len(ep.pending_polls) == 0 {
			log_warningf("ep #%d: ack with no poll outstanding", ep_id)
			return
		}
		var acked = ep.pending_polls[0]
		ep.pending_polls = ep.pending_polls[1:]
		if ep.on_poll_acknowledged != nil {
			ep.on_poll_acknowledged(ep_id, acked)
		}

	case LINK_FRAME_IFRAME:
		if link_poll_final(control) && ep.on_final != nil {
			ep.on_final(ep_id, payload)
		}

	case LINK_FRAME_UFRAME:
		if ep.on_uframe_receive != nil {
			ep.on_uframe_receive(ep_id, payload)
		}

	default:
		log_warningf("ep #%d: dropping frame with unknown control 0x%02x", ep_id, control)
	}
}
