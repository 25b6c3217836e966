// Package modegate turns two push buttons into the node's channel mode.
// Each input is polled, debounced, and combined with the most recent press
// to pick Idle, ChannelA or ChannelB. The poller is the only writer; other
// goroutines read a mutex-guarded Snapshot.
package modegate
