package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packrat_engine_state",
			Help: "Lifecycle state of each ingestion engine (0=stopped, 1=starting, 2=running, 3=stopping)",
		},
		[]string{"consumer"},
	)

	PartitionsAssigned = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packrat_partitions_assigned",
			Help: "Partitions assigned to each ingestion engine at start",
		},
		[]string{"consumer"},
	)
)
