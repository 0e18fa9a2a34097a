package wireframe

import "fmt"

// NeedMore indicates the buffer held fewer bytes than a complete frame
// requires. N is the caller's advisory hint of how many more bytes to wait
// for before retrying (0 when the shortfall cannot yet be estimated, e.g.
// the header itself is still incomplete).
type NeedMore struct{ N int }

func (e *NeedMore) Error() string { return fmt.Sprintf("wireframe: need %d more bytes", e.N) }

// HeaderError reports a header that does not match the BEEP grammar exactly:
// wrong token count, wrong separators, an out-of-range field, an ANS frame
// missing its ans-number, or an ans-number present on a non-ANS frame.
type HeaderError struct{ Reason string }

func (e *HeaderError) Error() string { return "wireframe: bad header: " + e.Reason }

// TrailerError reports that "END\r\n" was not found at the expected offset.
type TrailerError struct{ Reason string }

func (e *TrailerError) Error() string { return "wireframe: bad trailer: " + e.Reason }

func badHeader(reason string) error  { return &HeaderError{Reason: reason} }
func badTrailer(reason string) error { return &TrailerError{Reason: reason} }
func needMore(n int) error           { return &NeedMore{N: n} }
