package wireframe

import (
	"strconv"
	"strings"
)

// trailer is the literal byte sequence every non-SEQ frame ends with.
const trailer = "END\r\n"

// maxHeaderBytes bounds how far we search for the header-terminating CRLF
// before declaring the header malformed rather than merely incomplete.
const maxHeaderBytes = 4096

var frameTypeNames = map[string]FrameType{
	"MSG": MSG,
	"RPY": RPY,
	"ANS": ANS,
	"NUL": NUL,
	"ERR": ERR,
}

// ParseFrame tokenizes a single frame (data frame or SEQ frame) from the
// front of buf.
//
// On success it returns exactly one of frame or seq non-nil, along with the
// number of bytes consumed from buf. On a short buffer it returns a
// *NeedMore error and the caller must accumulate more bytes and retry with
// the same starting offset. On a malformed header or trailer it returns a
// *HeaderError or *TrailerError and the connection must be treated as
// protocol-fatal.
func ParseFrame(buf []byte) (frame *Frame, seq *SeqFrame, consumed int, err error) {
	idx := indexCRLF(buf)
	if idx < 0 {
		if len(buf) > maxHeaderBytes {
			return nil, nil, 0, badHeader("header exceeds maximum length without CRLF")
		}
		return nil, nil, 0, needMore(0)
	}

	header := string(buf[:idx])
	rest := buf[idx+2:]

	tokens, terr := splitTokens(header)
	if terr != nil {
		return nil, nil, 0, terr
	}
	if len(tokens) == 0 {
		return nil, nil, 0, badHeader("empty header")
	}

	if tokens[0] == "SEQ" {
		sf, serr := parseSeqTokens(tokens)
		if serr != nil {
			return nil, nil, 0, serr
		}
		return nil, sf, idx + 2, nil
	}

	ft, ok := frameTypeNames[tokens[0]]
	if !ok {
		return nil, nil, 0, badHeader("unknown frame type " + tokens[0])
	}

	f, herr := parseDataTokens(ft, tokens)
	if herr != nil {
		return nil, nil, 0, herr
	}

	need := int(f.PayloadSize) + len(trailer)
	if len(rest) < need {
		return nil, nil, 0, needMore(need - len(rest))
	}

	f.Payload = append([]byte(nil), rest[:f.PayloadSize]...)
	trailerBytes := rest[f.PayloadSize : f.PayloadSize+uint32(len(trailer))]
	if string(trailerBytes) != trailer {
		return nil, nil, 0, badTrailer("expected END\\r\\n at computed offset")
	}

	return f, nil, idx + 2 + need, nil
}

func parseSeqTokens(tokens []string) (*SeqFrame, error) {
	if len(tokens) != 4 {
		return nil, badHeader("SEQ header must have exactly 4 tokens")
	}
	chanNo, err := parseU31(tokens[1])
	if err != nil {
		return nil, badHeader("SEQ channel: " + err.Error())
	}
	ack, err := parseU32(tokens[2])
	if err != nil {
		return nil, badHeader("SEQ ackno: " + err.Error())
	}
	win, err := parseU32(tokens[3])
	if err != nil {
		return nil, badHeader("SEQ window: " + err.Error())
	}
	return &SeqFrame{Channel: chanNo, AckNo: ack, Window: win}, nil
}

func parseDataTokens(ft FrameType, tokens []string) (*Frame, error) {
	wantLen := 6
	if ft == ANS {
		wantLen = 7
	}
	if len(tokens) != wantLen {
		return nil, badHeader(ft.String() + " header has wrong token count")
	}

	chanNo, err := parseU31(tokens[1])
	if err != nil {
		return nil, badHeader("channel: " + err.Error())
	}
	msgNo, err := parseU31(tokens[2])
	if err != nil {
		return nil, badHeader("msgno: " + err.Error())
	}

	var more bool
	switch tokens[3] {
	case ".":
		more = false
	case "*":
		more = true
	default:
		return nil, badHeader("more flag must be '.' or '*'")
	}

	seqNo, err := parseU32(tokens[4])
	if err != nil {
		return nil, badHeader("seqno: " + err.Error())
	}
	size, err := parseU31(tokens[5])
	if err != nil {
		return nil, badHeader("size: " + err.Error())
	}

	var ansNo uint32
	if ft == ANS {
		ansNo, err = parseU32(tokens[6])
		if err != nil {
			return nil, badHeader("ansno: " + err.Error())
		}
	}

	if chanNo == 0 && (ft == ANS || ft == NUL) {
		return nil, badHeader("channel 0 cannot carry ANS or NUL frames")
	}

	return &Frame{
		Type:        ft,
		Channel:     chanNo,
		MsgNo:       msgNo,
		More:        more,
		SeqNo:       seqNo,
		PayloadSize: size,
		AnsNo:       ansNo,
	}, nil
}

// parseU31 parses a decimal field constrained to the u31 range used for
// channel numbers, message numbers and payload sizes.
func parseU31(tok string) (uint32, error) {
	v, err := parseU32(tok)
	if err != nil {
		return 0, err
	}
	if v > maxU31 {
		return 0, strconvRangeErr(tok)
	}
	return v, nil
}

func parseU32(tok string) (uint32, error) {
	if tok == "" {
		return 0, strconvRangeErr(tok)
	}
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func strconvRangeErr(tok string) error {
	return &strconv.NumError{Func: "parseU31", Num: tok, Err: strconv.ErrRange}
}

// splitTokens splits a header line on single ASCII spaces, rejecting
// leading/trailing/doubled spaces and other whitespace, per the strict
// grammar in §4.1.
func splitTokens(header string) ([]string, error) {
	if header == "" {
		return nil, badHeader("empty header")
	}
	if strings.ContainsAny(header, "\t\r\n") {
		return nil, badHeader("illegal whitespace in header")
	}
	parts := strings.Split(header, " ")
	for _, p := range parts {
		if p == "" {
			return nil, badHeader("doubled, leading or trailing space in header")
		}
	}
	return parts, nil
}

func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}
