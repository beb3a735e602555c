package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Wire format of system endpoint command frames.
 *
 * Description: A command frame is a fixed header followed by a
 *		variable payload:
 *
 *			+0	command_id	1 byte
 *			+1	command_seq	1 byte
 *			+2	length		1 byte, payload bytes that follow
 *			+3	payload		`length` bytes
 *
 *		Property commands put a 4 byte little-endian property id
 *		at the start of the payload, optionally followed by the
 *		property value.  Values of length 2, 4 and 8 are integers
 *		and travel little-endian; length 1 and anything else is
 *		an opaque byte array copied verbatim.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
)

type sys_cmd_id_t byte

const (
	CMD_SYSTEM_NOOP           sys_cmd_id_t = 0x01
	CMD_SYSTEM_RESET          sys_cmd_id_t = 0x02
	CMD_SYSTEM_PROP_VALUE_GET sys_cmd_id_t = 0x03
	CMD_SYSTEM_PROP_VALUE_SET sys_cmd_id_t = 0x04
	CMD_SYSTEM_PROP_VALUE_IS  sys_cmd_id_t = 0x05
)

func (id sys_cmd_id_t) String() string {
	switch id {
	case CMD_SYSTEM_NOOP:
		return "NOOP"
	case CMD_SYSTEM_RESET:
		return "RESET"
	case CMD_SYSTEM_PROP_VALUE_GET:
		return "PROP_VALUE_GET"
	case CMD_SYSTEM_PROP_VALUE_SET:
		return "PROP_VALUE_SET"
	case CMD_SYSTEM_PROP_VALUE_IS:
		return "PROP_VALUE_IS"
	}
	return fmt.Sprintf("0x%02X", byte(id))
}

const SYS_CMD_HEADER_LEN = 3
const SYS_PROP_ID_LEN = 4

type sys_cmd_header_t struct {
	command_id  sys_cmd_id_t
	command_seq byte
	length      byte
}

// A frame whose length field disagrees with the number of bytes that
// actually arrived.  The link is not trustworthy past this point.
type malformed_frame_error struct {
	got      int
	declared int
}

func (e *malformed_frame_error) Error() string {
	return fmt.Sprintf("malformed system frame: %d payload bytes on the wire, header declares %d", e.got, e.declared)
}

var host_is_little_endian = func() bool {
	var probe = []byte{0x01, 0x00}
	return binary.NativeEndian.Uint16(probe) == 1
}()

/*-------------------------------------------------------------------
 *
 * Name:        sys_cmd_encode
 *
 * Purpose:     Serialize a command frame.
 *
 * Inputs:	id	- Command kind.
 *		seq	- Sequence number stamped by the issuer.
 *		payload	- May be nil.  Max 255 bytes.
 *
 * Returns:	The frame.  The backing array is padded to the next
 *		8 byte boundary; the slice length is the exact frame.
 *
 *-----------------------------------------------------------------*/

func sys_cmd_encode(id sys_cmd_id_t, seq byte, payload []byte) []byte {
	if len(payload) > 255 {
		fatal_f("system command payload of %d bytes does not fit the length field", len(payload))
	}

	var flen = SYS_CMD_HEADER_LEN + len(payload)
	var buf = make([]byte, flen, pad_to_8(flen))

	buf[0] = byte(id)
	buf[1] = seq
	buf[2] = byte(len(payload))
	copy(buf[SYS_CMD_HEADER_LEN:], payload)

	return buf
}

/*-------------------------------------------------------------------
 *
 * Name:        sys_cmd_decode
 *
 * Purpose:     Parse a received frame and check the length field.
 *
 * Returns:	Header and payload, or malformed_frame_error when the
 *		declared length does not match what arrived.
 *
 *-----------------------------------------------------------------*/

func sys_cmd_decode(buf []byte) (sys_cmd_header_t, []byte, error) {
	if len(buf) < SYS_CMD_HEADER_LEN {
		return sys_cmd_header_t{}, nil, &malformed_frame_error{got: len(buf) - SYS_CMD_HEADER_LEN, declared: -1}
	}

	var hdr = sys_cmd_header_t{
		command_id:  sys_cmd_id_t(buf[0]),
		command_seq: buf[1],
		length:      buf[2],
	}

	if len(buf)-SYS_CMD_HEADER_LEN != int(hdr.length) {
		return hdr, nil, &malformed_frame_error{got: len(buf) - SYS_CMD_HEADER_LEN, declared: int(hdr.length)}
	}

	return hdr, buf[SYS_CMD_HEADER_LEN:], nil
}

/*-------------------------------------------------------------------
 *
 * Name:        prop_value_swap
 *
 * Purpose:     Length directed byte order conversion for property
 *		values.  Lengths 2, 4 and 8 hold integers in host
 *		memory order and are converted to/from little-endian.
 *		Anything else is opaque and copied verbatim.
 *
 *		The conversion is an involution, so the same routine
 *		serves both directions.
 *
 * Returns:	A fresh slice; the input is never modified.
 *
 *-----------------------------------------------------------------*/

func prop_value_swap(value []byte) []byte {
	var out = make([]byte, len(value))
	copy(out, value)

	switch len(value) {
	case 2, 4, 8:
		if !host_is_little_endian {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

/*-------------------------------------------------------------------
 *
 * Name:        sys_prop_payload_encode
 *
 * Purpose:     Build the payload of a property command:
 *		le32 property id followed by the wire form of the value.
 *
 *-----------------------------------------------------------------*/

func sys_prop_payload_encode(prop property_id_t, value []byte) []byte {
	var payload = make([]byte, SYS_PROP_ID_LEN+len(value))
	binary.LittleEndian.PutUint32(payload, uint32(prop))
	copy(payload[SYS_PROP_ID_LEN:], prop_value_swap(value))
	return payload
}

/*-------------------------------------------------------------------
 *
 * Name:        sys_prop_payload_decode
 *
 * Purpose:     Split a PROP_VALUE_IS payload into property id and
 *		host-order value bytes.
 *
 *-----------------------------------------------------------------*/

func sys_prop_payload_decode(payload []byte) (property_id_t, []byte, error) {
	if len(payload) < SYS_PROP_ID_LEN {
		return 0, nil, &malformed_frame_error{got: len(payload), declared: SYS_PROP_ID_LEN}
	}

	var prop = property_id_t(binary.LittleEndian.Uint32(payload))
	return prop, prop_value_swap(payload[SYS_PROP_ID_LEN:]), nil
}

/* Typed value helpers.  Host memory order in, host memory order out;
   the swap above takes care of the wire. */

func prop_value_u32(v uint32) []byte {
	var b = make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

func prop_value_as_u32(value []byte) uint32 {
	return binary.NativeEndian.Uint32(value)
}

// The two readings of a 4 byte status word as it sat on the wire:
// decoded treats it as little-endian, raw reinterprets the bytes in
// host order (what a plain pointer dereference would have produced).
func status_word_decode(wire_value []byte) (decoded uint32, raw uint32) {
	return binary.LittleEndian.Uint32(wire_value), binary.NativeEndian.Uint32(wire_value)
}
