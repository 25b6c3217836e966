// Package link reports wireless association and signal strength for the
// status API. On Linux the figures come from /proc/net/wireless.
package link
