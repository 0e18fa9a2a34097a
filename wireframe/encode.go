package wireframe

import (
	"strconv"
	"strings"
)

// Encode renders f as its complete wire representation: header, payload and
// trailer. It performs no allocation beyond the returned slice.
func (f *Frame) Encode() []byte {
	more := "."
	if f.More {
		more = "*"
	}

	var b strings.Builder
	b.Grow(64 + len(f.Payload))
	b.WriteString(f.Type.String())
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(f.Channel), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(f.MsgNo), 10))
	b.WriteByte(' ')
	b.WriteString(more)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(f.SeqNo), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(len(f.Payload)), 10))
	if f.Type == ANS {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(f.AnsNo), 10))
	}
	b.WriteString("\r\n")
	b.Write(f.Payload)
	b.WriteString(trailer)
	return []byte(b.String())
}

// Encode renders a SEQ frame. SEQ frames carry no payload and no trailer, so
// the codec performs no payload allocation for them (§4.1).
func (s *SeqFrame) Encode() []byte {
	var b strings.Builder
	b.Grow(32)
	b.WriteString("SEQ ")
	b.WriteString(strconv.FormatUint(uint64(s.Channel), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(s.AckNo), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(s.Window), 10))
	b.WriteString("\r\n")
	return []byte(b.String())
}
