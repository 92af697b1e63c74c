package transport

// Transport is the interface that wraps the raw duplex byte channel the
// protocol runs over (a UART on real hardware).
type Transport interface {
	// Write sends all of p or fails.
	Write(p []byte) error
	// Read fills all of p. Callers must not request more bytes than Avail
	// reported, so a conforming implementation never blocks here.
	Read(p []byte) error
	// Avail returns the number of bytes ready for reading.
	Avail() int
}
