// Package audio moves microphone PCM into the send path.
// A Capture loop reads fixed-size chunks from a Source (live device or a
// looped WAV file) and pushes them into a bounded RingBuffer. The ring is
// lossy on the producer side so capture never waits on the network.
package audio
