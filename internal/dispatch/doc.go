// Package dispatch routes inbound text frames to the node's two displays.
package dispatch
