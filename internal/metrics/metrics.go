// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed poll sweeps over the device set.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "silomon_poll_cycles_total",
		Help: "Completed polling cycles over the configured device set.",
	})

	// DeviceReads counts per-device read outcomes.
	DeviceReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "silomon_device_reads_total",
		Help: "Device read outcomes by result.",
	}, []string{"result"}) // accepted, rejected, error

	// QueueDropped counts persistence records lost to a full queue.
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "silomon_persist_dropped_total",
		Help: "Persistence records dropped because the queue was full.",
	})

	// BatchFlushes counts persistence batch flush outcomes.
	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "silomon_persist_batches_total",
		Help: "Persistence batch flushes by result.",
	}, []string{"result"}) // ok, error

	// OnlineDevices tracks how many devices were online after the last cycle.
	OnlineDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "silomon_online_devices",
		Help: "Devices online as of the last completed cycle.",
	})
)
