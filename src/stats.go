package cpcd

/*------------------------------------------------------------------
 *
 * Purpose:   	Daemon counters, exported in Prometheus format.
 *
 * Description: Counting happens unconditionally; the HTTP listener is
 *		only started when a listen address is configured.
 *
 *---------------------------------------------------------------*/

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var stats_registry = prometheus.NewRegistry()

var stats_commands_sent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cpcd_system_commands_sent_total",
		Help: "System endpoint commands transmitted, by command kind.",
	},
	[]string{"command"},
)

var stats_retransmits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cpcd_system_retransmits_total",
		Help: "System endpoint commands retransmitted after a timer expiry.",
	},
)

var stats_timeouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cpcd_system_timeouts_total",
		Help: "System endpoint commands that exhausted their retries.",
	},
)

var stats_unsolicited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cpcd_system_unsolicited_total",
		Help: "Unsolicited property notifications received, by property class.",
	},
	[]string{"property"},
)

var stats_endpoint_resets = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cpcd_system_endpoint_resets_total",
		Help: "Times the system endpoint was torn down and reopened.",
	},
)

func init() {
	stats_registry.MustRegister(
		stats_commands_sent,
		stats_retransmits,
		stats_timeouts,
		stats_unsolicited,
		stats_endpoint_resets,
	)
}

/*-------------------------------------------------------------------
 *
 * Name:        stats_serve
 *
 * Purpose:     Expose /metrics on the given address.
 *		No-op when addr is empty.
 *
 *-----------------------------------------------------------------*/

func stats_serve(addr string) {
	if len(addr) == 0 {
		return
	}

	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(stats_registry, promhttp.HandlerOpts{}))

	go func() {
		log_infof("Stats listening on %s", addr)
		var err = http.ListenAndServe(addr, mux)
		if err != nil {
			log_errorf("Stats listener failed: %s", err)
		}
	}()
}
