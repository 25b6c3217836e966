// Package metrics defines the Prometheus counters and gauges exported by the node.
package metrics
