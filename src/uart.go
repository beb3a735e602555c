package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Interface to the serial port carrying the link.
 *
 *---------------------------------------------------------------*/

import (
	"github.com/pkg/term"
)

type uart_t struct {
	fd *term.Term
}

/*-------------------------------------------------------------------
 *
 * Name:	uart_open
 *
 * Purpose:	Open the serial device in raw mode.
 *
 * Inputs:	devicename	- Usually /dev/tty...
 *
 *		baud		- Speed.  115200 bps etc.
 *				  If 0, leave it alone.
 *
 *-----------------------------------------------------------------*/

func uart_open(devicename string, baud int) (*uart_t, error) {
	var fd, err = term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, err
	}

	switch baud {
	case 0: /* Leave it alone. */
	case 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600:
		fd.SetSpeed(baud)
	default:
		log_warningf("uart_open: unsupported speed %d, using 115200", baud)
		fd.SetSpeed(115200)
	}

	log_infof("Opened %s at %d baud", devicename, baud)
	return &uart_t{fd: fd}, nil
}

// write_frame implements frame_writer_t for Core.
func (u *uart_t) write_frame(frame []byte) error {
	var _, err = u.fd.Write(frame)
	return err
}

/*-------------------------------------------------------------------
 *
 * Name:        read_loop
 *
 * Purpose:     Pump bytes from the serial port into Core via the
 *		event loop.  Runs on its own goroutine; everything it
 *		touches beyond the read itself happens serialized.
 *
 *-----------------------------------------------------------------*/

func (u *uart_t) read_loop(loop *event_loop_t, core *core_impl_t) {
	var chunk = make([]byte, 256)

	for {
		var n, err = u.fd.Read(chunk)
		if err != nil {
			log_errorf("Serial read failed: %s", err)
			return
		}
		if n == 0 {
			continue
		}

		var data = make([]byte, n)
		copy(data, chunk[:n])

		loop.post("uart-rx", func() {
			core.ingest(data)
		})
	}
}

func (u *uart_t) close() {
	if u.fd != nil {
		u.fd.Close()
		u.fd = nil
	}
}
