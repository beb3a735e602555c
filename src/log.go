package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Central logging for the daemon.
 *
 * Description: One leveled logger shared by every component.  Output
 *		goes to stderr.  Optionally a trace file captures
 *		everything at debug level; the file name is produced from
 *		a user supplied strftime pattern so a long running daemon
 *		can keep one file per day.  With a trace file the whole
 *		logger runs at debug level, so stderr gets the debug
 *		output as well.
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

var glog = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "cpcd",
})

var g_trace_fp *os.File

/*-------------------------------------------------------------------
 *
 * Name:        log_init
 *
 * Purpose:	Configure the logger once at startup.
 *
 * Inputs:	level		- "debug", "info", "warn" or "error".
 *
 *		trace_pattern	- strftime pattern for the trace file name,
 *				  e.g. "/tmp/cpcd-%Y-%m-%d.trace".
 *				  Empty string disables file tracing.
 *
 *-----------------------------------------------------------------*/

func log_init(level string, trace_pattern string) error {
	var lvl, parseErr = log.ParseLevel(level)
	if parseErr != nil {
		return parseErr
	}
	glog.SetLevel(lvl)

	if len(trace_pattern) == 0 {
		return nil
	}

	var fname, ftimeErr = strftime.Format(trace_pattern, time.Now())
	if ftimeErr != nil {
		return ftimeErr
	}

	var f, openErr = os.OpenFile(fname, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if openErr != nil {
		return openErr
	}

	g_trace_fp = f
	glog.SetOutput(io.MultiWriter(os.Stderr, f))
	glog.SetLevel(log.DebugLevel)
	glog.Info("Tracing to file", "file", fname)

	return nil
}

func log_term() {
	if g_trace_fp != nil {
		g_trace_fp.Close()
		g_trace_fp = nil
	}
}

func log_tracef(format string, args ...any) {
	glog.Debugf(format, args...)
}

func log_infof(format string, args ...any) {
	glog.Infof(format, args...)
}

func log_warningf(format string, args ...any) {
	glog.Warnf(format, args...)
}

func log_errorf(format string, args ...any) {
	glog.Errorf(format, args...)
}

// Protocol integrity violations and programming errors are not
// recoverable; the link is corrupt or the code is wrong.  Stored in a
// variable so tests can intercept instead of dying.
var fatal_f = func(format string, args ...any) {
	glog.Fatalf(format, args...)
}
