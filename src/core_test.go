package cpcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fake_transport_t struct {
	frames [][]byte
}

func (ft *fake_transport_t) write_frame(frame []byte) error {
	ft.frames = append(ft.frames, frame)
	return nil
}

func Test_core_write_requires_open_endpoint(t *testing.T) {
	var core = core_new(&fake_transport_t{})

	assert.Error(t, core.write(EP_SYSTEM, []byte{1}, FLAG_INFORMATION_POLL))
}

func Test_core_write_flag_validation(t *testing.T) {
	var core = core_new(&fake_transport_t{})

	require.NoError(t, core.open_endpoint(EP_SYSTEM, OPEN_EP_FLAG_NONE, 1))

	// Uframes were not enabled at open.
	assert.Error(t, core.write(EP_SYSTEM, []byte{1}, FLAG_UNNUMBERED_POLL))

	// Exactly one frame class per write.
	assert.Error(t, core.write(EP_SYSTEM, []byte{1}, FLAG_INFORMATION_POLL|FLAG_UNNUMBERED_POLL))

	require.NoError(t, core.close_endpoint(EP_SYSTEM, false, true))

	require.NoError(t, core.open_endpoint(EP_SYSTEM, OPEN_EP_FLAG_UFRAME_ENABLE|OPEN_EP_FLAG_IFRAME_DISABLE, 1))

	// Iframes disabled on this endpoint.
	assert.Error(t, core.write(EP_SYSTEM, []byte{1}, FLAG_INFORMATION_POLL))
	assert.NoError(t, core.write(EP_SYSTEM, []byte{1}, FLAG_UNNUMBERED_POLL))
}

func Test_core_transmit_queue_flush(t *testing.T) {
	var transport = &fake_transport_t{}
	var core = core_new(transport)

	require.NoError(t, core.open_endpoint(EP_SYSTEM, OPEN_EP_FLAG_UFRAME_ENABLE, 1))
	require.NoError(t, core.write(EP_SYSTEM, []byte{1, 2, 3}, FLAG_UNNUMBERED_POLL))
	require.NoError(t, core.write(EP_SYSTEM, []byte{4}, FLAG_UNNUMBERED_POLL))

	// Nothing leaves before the flush.
	assert.Empty(t, transport.frames)

	core.process_transmit_queue()
	assert.Len(t, transport.frames, 2)

	core.process_transmit_queue()
	assert.Len(t, transport.frames, 2)
}

func Test_core_poll_ack_returns_original_buffer(t *testing.T) {
	var transport = &fake_transport_t{}
	var core = core_new(transport)

	require.NoError(t, core.open_endpoint(EP_SYSTEM, OPEN_EP_FLAG_UFRAME_ENABLE, 1))

	var acked [][]byte
	core.set_on_poll_acknowledged(EP_SYSTEM, func(ep byte, buf []byte) {
		acked = append(acked, buf)
	})

	var first = []byte{0x01, 0x00, 0x00}
	var second = []byte{0x01, 0x01, 0x00}
	require.NoError(t, core.write(EP_SYSTEM, first, FLAG_INFORMATION_POLL))
	require.NoError(t, core.write(EP_SYSTEM, second, FLAG_INFORMATION_POLL))

	// Acks pop pending polls oldest first.
	var ack = link_frame_encode(EP_SYSTEM, link_control(LINK_FRAME_SFRAME_ACK, false, 0), nil)
	core.ingest(ack)
	core.ingest(ack)

	require.Len(t, acked, 2)
	assert.Equal(t, first, acked[0])
	assert.Equal(t, second, acked[1])
}

func Test_core_inbound_dispatch(t *testing.T) {
	var core = core_new(&fake_transport_t{})

	require.NoError(t, core.open_endpoint(EP_SYSTEM, OPEN_EP_FLAG_UFRAME_ENABLE, 1))

	var finals, uframes [][]byte
	core.set_on_final(EP_SYSTEM, func(ep byte, buf []byte) { finals = append(finals, buf) })
	core.set_on_uframe_receive(EP_SYSTEM, func(ep byte, buf []byte) { uframes = append(uframes, buf) })

	core.ingest(link_frame_encode(EP_SYSTEM, link_control(LINK_FRAME_IFRAME, true, 0), []byte{0x01, 0x00, 0x00}))
	core.ingest(link_frame_encode(EP_SYSTEM, link_control(LINK_FRAME_UFRAME, false, 0), []byte{0x05, 0x00, 0x00}))

	require.Len(t, finals, 1)
	assert.Equal(t, []byte{0x01, 0x00, 0x00}, finals[0])
	require.Len(t, uframes, 1)
	assert.Equal(t, []byte{0x05, 0x00, 0x00}, uframes[0])
}

func Test_core_endpoint_state_tracking(t *testing.T) {
	var core = core_new(&fake_transport_t{})

	assert.Equal(t, EP_STATE_CLOSED, core.endpoint_state(7))

	require.NoError(t, core.open_endpoint(7, OPEN_EP_FLAG_NONE, 1))
	assert.Equal(t, EP_STATE_OPEN, core.endpoint_state(7))

	assert.False(t, core.endpoint_has_listeners(7))
	core.add_endpoint_listener(7)
	assert.True(t, core.endpoint_has_listeners(7))
	core.remove_endpoint_listener(7)
	assert.False(t, core.endpoint_has_listeners(7))

	core.set_endpoint_in_error(7, EP_STATE_ERROR_DEST_UNREACHABLE)
	assert.Equal(t, EP_STATE_ERROR_DEST_UNREACHABLE, core.endpoint_state(7))
}
