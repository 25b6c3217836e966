// Package transport carries tagged audio to the processing server and text
// back from it over one TCP connection.
//
// The sender dials, streams frames from the audio ring and owns every
// connection it creates. Each connection is wrapped in a link that is handed
// to the receiver through a one-slot lifecycle channel. The receiver never
// dials or closes: on a read error it faults the link and the sender tears it
// down, waits a fixed delay and dials again. A link whose done channel is
// closed is stale and is skipped by the receiver.
package transport
