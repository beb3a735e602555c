package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	GPIO lines to the secondary.
 *
 * Description: Two lines matter to the daemon: an active-low reset
 *		line we drive to hard-reset the secondary, and a wake
 *		line the secondary raises when it has data for us while
 *		we are not polling.  Wake edges are posted onto the
 *		event loop like every other external stimulus.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"github.com/warthog618/go-gpiocdev"
)

type gpio_t struct {
	reset_line *gpiocdev.Line
	wake_line  *gpiocdev.Line
}

/*-------------------------------------------------------------------
 *
 * Name:	gpio_open
 *
 * Purpose:	Claim the configured lines on the GPIO character device.
 *
 * Inputs:	chip		- e.g. "gpiochip0".
 *
 *		reset_offset	- Line offset of the reset pin, -1 to skip.
 *
 *		wake_offset	- Line offset of the wake pin, -1 to skip.
 *
 *		loop, on_wake	- Wake edges are delivered as on_wake()
 *				  calls on the event loop.
 *
 *-----------------------------------------------------------------*/

func gpio_open(chip string, reset_offset int, wake_offset int, loop *event_loop_t, on_wake func()) (*gpio_t, error) {
	var g = &gpio_t{}

	if reset_offset >= 0 {
		var l, err = gpiocdev.RequestLine(chip, reset_offset,
			gpiocdev.AsOutput(1),
			gpiocdev.WithConsumer("cpcd-reset"))
		if err != nil {
			return nil, err
		}
		g.reset_line = l
	}

	if wake_offset >= 0 {
		var l, err = gpiocdev.RequestLine(chip, wake_offset,
			gpiocdev.AsInput,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithConsumer("cpcd-wake"),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				loop.post("gpio-wake", on_wake)
			}))
		if err != nil {
			g.close()
			return nil, err
		}
		g.wake_line = l
	}

	return g, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        reset_secondary
 *
 * Purpose:     Pulse the reset line low.  Blocks for the pulse width;
 *		call before the event loop starts or from outside it.
 *
 *-----------------------------------------------------------------*/

func (g *gpio_t) reset_secondary(hold time.Duration) error {
	if g.reset_line == nil {
		return nil
	}

	if err := g.reset_line.SetValue(0); err != nil {
		return err
	}
	time.Sleep(hold)
	return g.reset_line.SetValue(1)
}

func (g *gpio_t) close() {
	if g.reset_line != nil {
		g.reset_line.Close()
		g.reset_line = nil
	}
	if g.wake_line != nil {
		g.wake_line.Close()
		g.wake_line = nil
	}
}
