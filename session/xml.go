// Package session implements the channel-zero XML dialect and greeting/
// start/close state machine (§4.5, RFC 3080 §2.3): a small subset of XML
// exchanged as MSG/RPY/ERR payloads on channel 0.
package session

import (
	"encoding/base64"
	"encoding/xml"

	"github.com/pkg/errors"
)

// RFC 3080 channel-zero error codes (§4.5, §6).
const (
	CodeOK                          = 200
	CodeServiceUnavailable          = 421
	CodeGeneralSyntaxError          = 500
	CodeAuthenticationRequired      = 530
	CodeMechanismTooWeak            = 534
	CodeAuthenticationFailure       = 535
	CodeActionNotAuthorized         = 537
	CodeAuthenticationRequiresEncryption = 538
	CodeStillWorking                = 550
	CodeParameterInvalid            = 553
	CodeTransactionFailed           = 554
)

// Greeting is the first channel-zero exchange each side sends (§6).
type Greeting struct {
	XMLName    xml.Name    `xml:"greeting"`
	ServerName string      `xml:"serverName,attr,omitempty"`
	Profiles   []ProfileAd `xml:"profile"`
}

// ProfileAd advertises one profile URI in a Greeting.
type ProfileAd struct {
	URI string `xml:"uri,attr"`
}

// StartRequest asks the peer to create a new channel offering one or more
// candidate profiles (§6).
type StartRequest struct {
	XMLName    xml.Name       `xml:"start"`
	Number     uint32         `xml:"number,attr"`
	ServerName string         `xml:"serverName,attr,omitempty"`
	Profiles   []StartProfile `xml:"profile"`
}

// StartProfile is one candidate profile offered in a StartRequest,
// optionally carrying an initial (piggyback) payload.
type StartProfile struct {
	URI      string `xml:"uri,attr"`
	Encoding string `xml:"encoding,attr,omitempty"` // "none" (default) or "base64"
	Content  string `xml:",chardata"`
}

// ProfileReply is the listener's positive response to a StartRequest: the
// one profile it selected, optionally with a piggyback payload (§6, RFC
// 3080 §2.3.1.2).
type ProfileReply struct {
	XMLName  xml.Name `xml:"profile"`
	URI      string   `xml:"uri,attr"`
	Encoding string   `xml:"encoding,attr,omitempty"`
	Content  string   `xml:",chardata"`
}

// CloseRequest asks the peer to close a channel (or, for Number == 0, the
// whole session) with the given RFC diagnostic code (§6).
type CloseRequest struct {
	XMLName xml.Name `xml:"close"`
	Number  uint32   `xml:"number,attr"`
	Code    int      `xml:"code,attr"`
	Lang    string   `xml:"xml:lang,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// OK is the positive acknowledgement to a CloseRequest.
type OK struct {
	XMLName xml.Name `xml:"ok"`
}

// ErrorReply is the negative response to any channel-zero request.
type ErrorReply struct {
	XMLName xml.Name `xml:"error"`
	Code    int      `xml:"code,attr"`
	Lang    string   `xml:"xml:lang,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

func (e *ErrorReply) Error() string {
	return errors.Errorf("session: peer error %d: %s", e.Code, e.Text).Error()
}

// Marshal renders v as an XML document without the <?xml ...?> prologue,
// matching the compact channel-zero payloads real peers emit.
func Marshal(v interface{}) ([]byte, error) {
	return xml.Marshal(v)
}

// Unmarshal parses a channel-zero XML payload into v.
func Unmarshal(data []byte, v interface{}) error {
	return xml.Unmarshal(data, v)
}

// EncodePiggyback base64-encodes payload when requested; "none" (or empty)
// leaves it as literal XML character data, which callers must ensure is
// XML-safe (e.g. CDATA-free) for anything but trivial bodies.
func EncodePiggyback(payload []byte, wantBase64 bool) (content, encoding string) {
	if wantBase64 {
		return base64.StdEncoding.EncodeToString(payload), "base64"
	}
	return string(payload), ""
}

// DecodePiggyback reverses EncodePiggyback based on the encoding attribute
// value actually observed on the wire.
func DecodePiggyback(content, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(content), nil
}
