package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StratumSessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "stratum_sessions_connected",
		Help:      "Number of active Stratum client sessions.",
	})

	P2PPeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "p2p_peers_connected",
		Help:      "Number of connected Bitcoin P2P peers.",
	})

	ExchangeSessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "exchange_sessions_connected",
		Help:      "Number of active exchange WebSocket sessions.",
	})

	SharesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "shares_found_total",
		Help:      "Total shares found by the search loop.",
	})

	SharesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "shares_submitted_total",
		Help:      "Total shares submitted upstream.",
	})

	SharesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "shares_accepted_total",
		Help:      "Total shares accepted by the upstream pool.",
	})

	SharesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "shares_rejected_total",
		Help:      "Total shares rejected by the upstream pool, by reason.",
	}, []string{"reason"})

	BlockCandidatesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "block_candidates_found_total",
		Help:      "Total nonces found meeting the block target.",
	})

	MempoolEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "mempool_entries",
		Help:      "Number of transactions held in the mempool index.",
	})

	MempoolBytesUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "mempool_bytes_used",
		Help:      "Bytes currently used by the mempool index, including overhead.",
	})

	MempoolEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "mempool_evictions_total",
		Help:      "Total entries evicted from the mempool index.",
	})

	SearchLoopHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "search_loop_hashrate",
		Help:      "Estimated local search loop hashrate in H/s.",
	})

	ProtocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "protocol_errors_total",
		Help:      "Total engine errors by taxonomy kind.",
	}, []string{"kind"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum_engine",
		Name:      "uptime_seconds",
		Help:      "Engine process uptime in seconds.",
	})

	ExchangeMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum_engine",
		Name:      "exchange_messages_received_total",
		Help:      "Total Exchange Session messages received, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		StratumSessionsConnected,
		P2PPeersConnected,
		ExchangeSessionsConnected,
		SharesFound,
		SharesSubmitted,
		SharesAccepted,
		SharesRejected,
		BlockCandidatesFound,
		MempoolEntries,
		MempoolBytesUsed,
		MempoolEvictions,
		SearchLoopHashrate,
		ProtocolErrors,
		UptimeSeconds,
		ExchangeMessagesReceived,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
