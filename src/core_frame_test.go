package cpcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type captured_frame_t struct {
	ep_id   byte
	control byte
	payload []byte
}

func deframe_all(t *testing.T, raw []byte) []captured_frame_t {
	t.Helper()

	var d link_deframer_t
	var got []captured_frame_t
	d.push(raw, func(ep_id byte, control byte, payload []byte) {
		got = append(got, captured_frame_t{ep_id, control, payload})
	})
	return got
}

func Test_link_frame_round_trip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var ep = rapid.Byte().Draw(t, "ep")
		var control = rapid.Byte().Draw(t, "control")
		var payload = rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "payload")

		var d link_deframer_t
		var got []captured_frame_t
		d.push(link_frame_encode(ep, control, payload), func(ep_id byte, c byte, p []byte) {
			got = append(got, captured_frame_t{ep_id, c, p})
		})

		require.Len(t, got, 1)
		assert.Equal(t, ep, got[0].ep_id)
		assert.Equal(t, control, got[0].control)
		assert.Equal(t, payload, got[0].payload)
	})
}

func Test_link_frame_escaping(t *testing.T) {
	// A payload full of delimiters must not break framing.
	var payload = []byte{FEND, FESC, FEND, FEND, FESC, TFEND, TFESC}

	var raw = link_frame_encode(5, 0x20, payload)

	// Nothing between the delimiters may be a bare FEND.
	for _, b := range raw[1 : len(raw)-1] {
		assert.NotEqual(t, byte(FEND), b)
	}

	var got = deframe_all(t, raw)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].payload)
}

func Test_link_deframer_chunked(t *testing.T) {
	// Bytes arrive from the serial port in arbitrary chunks.
	var raw = link_frame_encode(1, 0x42, []byte{1, 2, 3, 4, 5})

	var d link_deframer_t
	var got []captured_frame_t
	for _, b := range raw {
		d.push([]byte{b}, func(ep_id byte, c byte, p []byte) {
			got = append(got, captured_frame_t{ep_id, c, p})
		})
	}

	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got[0].payload)
}

func Test_link_deframer_checksum_reject(t *testing.T) {
	var raw = link_frame_encode(1, 0x00, []byte{9, 9, 9})

	// Flip a payload bit.
	var corrupt = make([]byte, len(raw))
	copy(corrupt, raw)
	corrupt[3] ^= 0x01

	assert.Empty(t, deframe_all(t, corrupt))
}

func Test_link_deframer_noise_between_frames(t *testing.T) {
	var f1 = link_frame_encode(1, 0x00, []byte{1})
	var f2 = link_frame_encode(2, 0x00, []byte{2})

	var raw []byte
	raw = append(raw, 0x55, 0xAA) // line noise before the first FEND
	raw = append(raw, f1...)
	raw = append(raw, f2...)

	var got = deframe_all(t, raw)
	require.Len(t, got, 2)
	assert.Equal(t, byte(1), got[0].ep_id)
	assert.Equal(t, byte(2), got[1].ep_id)
}

func Test_link_control_bits(t *testing.T) {
	var c = link_control(LINK_FRAME_IFRAME, true, 5)
	assert.Equal(t, LINK_FRAME_IFRAME, link_frame_type(c))
	assert.True(t, link_poll_final(c))

	c = link_control(LINK_FRAME_UFRAME, false, 0)
	assert.Equal(t, LINK_FRAME_UFRAME, link_frame_type(c))
	assert.False(t, link_poll_final(c))
}
