// Package server exposes the node's HTTP status API and renders inbound
// display text.
//
// The API reports connection state, the selected channel, ring buffer fill,
// link quality and display routing counters as JSON, and serves the
// Prometheus registry on /metrics. The Renderer drains both display queues
// and keeps the latest lines of each for /display.
package server
