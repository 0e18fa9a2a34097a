package mime

import (
	"bytes"
	"testing"
)

func TestSplitEmptyEntity(t *testing.T) {
	e := Split([]byte("\r\nhello"))
	if len(e.Headers) != 0 {
		t.Errorf("Headers = %q, want empty", e.Headers)
	}
	if !bytes.Equal(e.Body, []byte("hello")) {
		t.Errorf("Body = %q, want %q", e.Body, "hello")
	}
	if e.ContentType() != DefaultContentType {
		t.Errorf("ContentType = %q, want default", e.ContentType())
	}
	if e.ContentTransferEncoding() != DefaultContentTransferEncoding {
		t.Errorf("ContentTransferEncoding = %q, want default", e.ContentTransferEncoding())
	}
}

func TestSplitWithHeaders(t *testing.T) {
	payload := "Content-Type: text/plain\r\nContent-Transfer-Encoding: 7bit\r\n\r\nhi there"
	e := Split([]byte(payload))
	if e.ContentType() != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", e.ContentType())
	}
	if e.ContentTransferEncoding() != "7bit" {
		t.Errorf("ContentTransferEncoding = %q, want 7bit", e.ContentTransferEncoding())
	}
	if !bytes.Equal(e.Body, []byte("hi there")) {
		t.Errorf("Body = %q, want %q", e.Body, "hi there")
	}
}

func TestJoinRoundTrip(t *testing.T) {
	e := Entity{Headers: []byte("Content-Type: application/octet-stream"), Body: []byte("payload")}
	joined := Join(e)
	back := Split(joined)
	if !bytes.Equal(back.Headers, e.Headers) || !bytes.Equal(back.Body, e.Body) {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, e)
	}
}

func TestJoinEmptyEntity(t *testing.T) {
	joined := Join(Entity{Body: []byte("x")})
	if string(joined) != "\r\nx" {
		t.Errorf("joined = %q, want %q", joined, "\r\nx")
	}
}

func TestJoinSplitRoundTripsEmptyHeaders(t *testing.T) {
	e := Entity{Body: []byte("This is a test")}
	back := Split(Join(e))
	if len(back.Headers) != 0 {
		t.Errorf("Headers = %q, want empty", back.Headers)
	}
	if !bytes.Equal(back.Body, e.Body) {
		t.Errorf("Body = %q, want %q", back.Body, e.Body)
	}
}
