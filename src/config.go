package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Daemon configuration, read once at startup.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type uart_config_t struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type gpio_config_t struct {
	Chip      string `yaml:"chip"`
	ResetLine int    `yaml:"reset_line"`
	WakeLine  int    `yaml:"wake_line"`
}

type trace_config_t struct {
	Level       string `yaml:"level"`
	FilePattern string `yaml:"file_pattern"` /* strftime pattern, empty disables */
}

type system_config_t struct {
	RetryCount     int `yaml:"retry_count"`
	RetryTimeoutMs int `yaml:"retry_timeout_ms"`
	NoopIntervalS  int `yaml:"noop_interval_s"` /* 0 disables the liveness probe */
}

type config_t struct {
	InstanceName string          `yaml:"instance_name"`
	Uart         uart_config_t   `yaml:"uart"`
	Gpio         gpio_config_t   `yaml:"gpio"`
	Trace        trace_config_t  `yaml:"trace"`
	StatsListen  string          `yaml:"stats_listen"`
	System       system_config_t `yaml:"system"`
}

func config_defaults() *config_t {
	return &config_t{
		InstanceName: "cpcd_0",
		Uart: uart_config_t{
			Device: "/dev/ttyACM0",
			Baud:   115200,
		},
		Gpio: gpio_config_t{
			Chip:      "",
			ResetLine: -1,
			WakeLine:  -1,
		},
		Trace: trace_config_t{
			Level: "info",
		},
		System: system_config_t{
			RetryCount:     3,
			RetryTimeoutMs: 100,
			NoopIntervalS:  30,
		},
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        config_load
 *
 * Purpose:     Parse the YAML configuration file on top of the
 *		defaults.  Empty path returns plain defaults.
 *
 *-----------------------------------------------------------------*/

func config_load(path string) (*config_t, error) {
	var cfg = config_defaults()

	if len(path) == 0 {
		return cfg, nil
	}

	var data, readErr = os.ReadFile(path)
	if readErr != nil {
		return nil, readErr
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if cfg.System.RetryCount < 0 {
		return nil, fmt.Errorf("system.retry_count must not be negative, got %d", cfg.System.RetryCount)
	}
	if cfg.System.RetryTimeoutMs <= 0 {
		return nil, fmt.Errorf("system.retry_timeout_ms must be positive, got %d", cfg.System.RetryTimeoutMs)
	}
	if len(cfg.Uart.Device) == 0 {
		return nil, fmt.Errorf("uart.device must be set")
	}

	return cfg, nil
}

func (cfg *config_t) retry_timeout() time.Duration {
	return time.Duration(cfg.System.RetryTimeoutMs) * time.Millisecond
}
