package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Daemon bring-up and main loop.
 *
 * Description: Order matters here:
 *
 *		  1. configuration and logging
 *		  2. serial port and GPIO
 *		  3. Core on top of the serial port
 *		  4. system endpoint on top of Core
 *		  5. hard-reset the secondary, send it the reboot
 *		     command and, once the reset reply arrives, read
 *		     its version and capabilities
 *		  6. serve until a signal arrives
 *
 *---------------------------------------------------------------*/

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

/*-------------------------------------------------------------------
 *
 * Name:        Run
 *
 * Purpose:     Entry point for the cpcd binary.
 *
 *-----------------------------------------------------------------*/

func Run() {
	var conf = pflag.StringP("conf", "c", "", "Path to the configuration file")
	var device = pflag.StringP("device", "d", "", "Serial device, overrides the configuration file")
	var baud = pflag.IntP("baud", "b", 0, "Serial speed, overrides the configuration file")
	var version = pflag.BoolP("version", "v", false, "Print version and exit")
	pflag.Parse()

	if *version {
		PrintVersion()
		return
	}

	var cfg, cfgErr = config_load(*conf)
	if cfgErr != nil {
		glog.Fatal("Configuration", "err", cfgErr)
	}
	if len(*device) > 0 {
		cfg.Uart.Device = *device
	}
	if *baud > 0 {
		cfg.Uart.Baud = *baud
	}

	if err := log_init(cfg.Trace.Level, cfg.Trace.FilePattern); err != nil {
		glog.Fatal("Logging", "err", err)
	}
	defer log_term()

	log_infof("Starting instance %s on %s", cfg.InstanceName, cfg.Uart.Device)

	var loop = event_loop_new()
	var timers = timer_service_new(loop)

	var uart, uartErr = uart_open(cfg.Uart.Device, cfg.Uart.Baud)
	if uartErr != nil {
		glog.Fatal("Serial port", "err", uartErr)
	}
	defer uart.close()

	var core = core_new(uart)

	var gpio *gpio_t
	if len(cfg.Gpio.Chip) > 0 {
		var gpioErr error
		gpio, gpioErr = gpio_open(cfg.Gpio.Chip, cfg.Gpio.ResetLine, cfg.Gpio.WakeLine, loop, func() {
			log_tracef("Wake edge from secondary")
		})
		if gpioErr != nil {
			glog.Fatal("GPIO", "err", gpioErr)
		}
		defer gpio.close()
	}

	var sys, sysErr = system_open(core, timers)
	if sysErr != nil {
		glog.Fatal("System endpoint", "err", sysErr)
	}

	/* A reset announcement we did not cause means the secondary
	   rebooted under us; drop whatever is in flight and start over. */
	sys.register_unsolicited_prop_last_status_callback(func(status uint32, raw uint32) {
		if sys.ignore_reset_reason {
			return
		}
		log_warningf("Unexpected secondary reset, status 0x%08X", status)
		if err := sys.reset_system_endpoint(); err != nil {
			glog.Fatal("System endpoint reset", "err", err)
		}
	})

	stats_serve(cfg.StatsListen)

	go uart.read_loop(loop, core)

	/* Hard-reset the secondary if we have the line for it, then run
	   the startup negotiation once the loop is up. */
	if gpio != nil {
		if err := gpio.reset_secondary(10 * time.Millisecond); err != nil {
			glog.Fatal("Secondary reset", "err", err)
		}
	}

	loop.post("startup", func() {
		startup_sequence(sys, cfg)
	})

	if cfg.System.NoopIntervalS > 0 {
		schedule_liveness_probe(sys, timers, cfg)
	}

	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		var s = <-sigs
		log_infof("Caught %s, shutting down", s)
		loop.stop()
	}()

	loop.run()
	log_infof("Done")
}

/*-------------------------------------------------------------------
 *
 * Name:        startup_sequence
 *
 * Purpose:     Reboot the secondary over the protocol and read back
 *		what it is once it answers.
 *
 *-----------------------------------------------------------------*/

func startup_sequence(sys *system_endpoint_t, cfg *config_t) {
	sys.cmd_reboot(func(cmd *sys_command_t, status sys_status_t, reset_status uint32) {
		if status == STATUS_TIMEOUT {
			glog.Fatal("Secondary did not answer the reset request; is anything connected?")
			return
		}
		log_infof("Secondary acknowledged reset, status 0x%08X", reset_status)

		sys.cmd_property_get(on_secondary_version, PROP_SECONDARY_CPC_VERSION, cfg.System.RetryCount, cfg.retry_timeout())
		sys.cmd_property_get(on_secondary_capabilities, PROP_CAPABILITIES, cfg.System.RetryCount, cfg.retry_timeout())
	}, cfg.System.RetryCount, cfg.retry_timeout())
}

func on_secondary_version(cmd *sys_command_t, prop property_id_t, value []byte, status sys_status_t) {
	if status != STATUS_OK && status != STATUS_IN_PROGRESS {
		log_warningf("Could not read secondary version: %s", status)
		return
	}
	if len(value) == 4 {
		log_infof("Secondary protocol version %d.%d.%d (patch %d)", value[3], value[2], value[1], value[0])
	} else {
		log_infof("Secondary version, %d bytes", len(value))
	}
}

func on_secondary_capabilities(cmd *sys_command_t, prop property_id_t, value []byte, status sys_status_t) {
	if status != STATUS_OK && status != STATUS_IN_PROGRESS {
		log_warningf("Could not read secondary capabilities: %s", status)
		return
	}
	if len(value) == 4 {
		log_infof("Secondary capabilities 0x%08X", prop_value_as_u32(value))
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        schedule_liveness_probe
 *
 * Purpose:     Periodic NOOP so a dead link is noticed even when the
 *		control plane is otherwise idle.
 *
 *-----------------------------------------------------------------*/

func schedule_liveness_probe(sys *system_endpoint_t, timers timer_service_t, cfg *config_t) {
	var interval = time.Duration(cfg.System.NoopIntervalS) * time.Second

	var probe func()
	probe = func() {
		sys.cmd_noop(func(cmd *sys_command_t, status sys_status_t) {
			switch status {
			case STATUS_OK:
				log_tracef("[%s] liveness ok", cmd.trace_id)
			case STATUS_IN_PROGRESS:
				log_warningf("[%s] liveness ok after retransmits", cmd.trace_id)
			default:
				log_errorf("[%s] liveness probe failed: %s", cmd.trace_id, status)
			}
		}, cfg.System.RetryCount, cfg.retry_timeout())

		timers.one_shot(interval, probe)
	}

	timers.one_shot(interval, probe)
}
