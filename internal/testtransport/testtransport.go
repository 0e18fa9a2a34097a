// Package testtransport provides an in-memory duplex Transport for
// connecting two peer.Connection values without a real socket or SSH
// channel, grounded on the teacher's testserver package (which wires a
// client and server session together for on-board testing) but using
// net.Pipe instead of a TCP/SSH listener since a BEEP Connection only
// needs an io.Reader/io.Writer/Close.
package testtransport

import "net"

// Pair is one endpoint of an in-memory duplex pipe, implementing
// peer.Transport (io.Reader, io.Writer, Close).
type Pair struct {
	net.Conn
}

// New returns two connected Pair endpoints: bytes written to one are read
// from the other.
func New() (a, b *Pair) {
	ca, cb := net.Pipe()
	return &Pair{Conn: ca}, &Pair{Conn: cb}
}
