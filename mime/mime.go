// Package mime locates the header/body split in a BEEP data-frame payload.
// It does not interpret MIME semantics beyond that: the header block and
// body block are both handed back to the consumer unparsed (§6).
package mime

import "bytes"

// DefaultContentType and DefaultContentTransferEncoding apply when a
// payload carries no MIME headers at all.
const (
	DefaultContentType             = "application/octet-stream"
	DefaultContentTransferEncoding = "binary"
)

var crlfcrlf = []byte("\r\n\r\n")
var crlf = []byte("\r\n")

// Entity is a BEEP data-frame payload split into its MIME header block and
// body, per §6: a frame with a header area consisting only of "\r\n" is an
// empty-header entity, reported with an empty Headers block, and
// DefaultContentType/DefaultContentTransferEncoding apply.
type Entity struct {
	Headers []byte // raw header bytes, not including the separating CRLFCRLF
	Body    []byte
}

// Split locates the first CRLFCRLF in payload and splits around it. An
// empty header block has no header bytes to terminate, so the wire form
// Join produces for it is a bare leading CRLF, not CRLFCRLF (§6) — a
// payload with no CRLFCRLF but a leading CRLF is therefore the
// empty-headers case too (Headers empty, Body the rest after the CRLF).
// A payload with neither is treated as a bodiless whole-payload entity,
// since the minimal framing contract never requires the split to exist.
func Split(payload []byte) Entity {
	if idx := bytes.Index(payload, crlfcrlf); idx >= 0 {
		return Entity{
			Headers: payload[:idx],
			Body:    payload[idx+len(crlfcrlf):],
		}
	}
	if bytes.HasPrefix(payload, crlf) {
		return Entity{Body: payload[len(crlf):]}
	}
	return Entity{Body: payload}
}

// ContentType returns DefaultContentType when e has no header block.
// Callers needing actual MIME header parsing (e.g. a non-default
// Content-Type) are expected to parse e.Headers themselves; this is
// intentionally shallow per §6.
func (e Entity) ContentType() string {
	if len(e.Headers) == 0 {
		return DefaultContentType
	}
	return findHeader(e.Headers, "Content-Type", DefaultContentType)
}

// ContentTransferEncoding returns DefaultContentTransferEncoding when e has
// no header block.
func (e Entity) ContentTransferEncoding() string {
	if len(e.Headers) == 0 {
		return DefaultContentTransferEncoding
	}
	return findHeader(e.Headers, "Content-Transfer-Encoding", DefaultContentTransferEncoding)
}

// findHeader does a minimal case-sensitive-name, single-line header lookup
// sufficient for the two well-known fields above. It is not a general MIME
// header parser by design (§1 non-goal).
func findHeader(headers []byte, name, fallback string) string {
	lines := bytes.Split(headers, []byte("\r\n"))
	prefix := []byte(name + ":")
	for _, line := range lines {
		if bytes.HasPrefix(line, prefix) {
			return string(bytes.TrimSpace(line[len(prefix):]))
		}
	}
	return fallback
}

// Join renders headers and body back into a single frame payload, encoding
// the empty-entity case as a bare CRLF plus body (§6).
func Join(e Entity) []byte {
	if len(e.Headers) == 0 {
		out := make([]byte, 0, len(e.Body)+2)
		out = append(out, '\r', '\n')
		out = append(out, e.Body...)
		return out
	}
	out := make([]byte, 0, len(e.Headers)+4+len(e.Body))
	out = append(out, e.Headers...)
	out = append(out, crlfcrlf...)
	out = append(out, e.Body...)
	return out
}
