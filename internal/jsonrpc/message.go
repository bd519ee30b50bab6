package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind classifies a decoded wire record.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// ID is a JSON-RPC request id. The protocol allows numbers and strings;
// ids we allocate are always numbers.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// IntID returns a numeric id.
func IntID(n int64) ID { return ID{num: n} }

// StringID returns a string id.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// IsString reports whether the id was sent as a JSON string.
func (id ID) IsString() bool { return id.isStr }

// Int returns the numeric value. String ids holding a decimal number are
// accepted so that peers echoing our ids as strings still correlate.
func (id ID) Int() (int64, bool) {
	if !id.isStr {
		return id.num, true
	}
	n, err := strconv.ParseInt(id.str, 10, 64)
	return n, err == nil
}

// String renders the id for logs. 7 and "7" render alike; use Key where
// they must stay distinct.
func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// Key renders the id so that numeric and string ids never collide: a
// number as its digits, a string quoted. IntID(7) is `7`, StringID("7")
// is `"7"`.
func (id ID) Key() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer or string: %s", data)
	}
	*id = IntID(n)
	return nil
}

// Message is one decoded line. Which fields are set depends on Kind.
type Message struct {
	ID     *ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RemoteError

	hasResult bool
}

// Kind classifies the message by field presence.
func (m *Message) Kind() Kind {
	switch {
	case m.Method == "" && m.ID != nil && (m.hasResult || m.Error != nil):
		return KindResponse
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "" && m.ID == nil:
		return KindNotification
	default:
		return KindInvalid
	}
}

// Request is an outgoing or inbound call expecting a response.
type Request struct {
	ID     ID              `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Notification is fire-and-forget and carries no id.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wireResponse forces "result" to be emitted even when it is JSON null.
type wireResponse struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result"`
}

type wireErrorResponse struct {
	ID    ID           `json:"id"`
	Error *RemoteError `json:"error"`
}

func (r Response) wire() any {
	if r.Error != nil {
		return wireErrorResponse{ID: r.ID, Error: r.Error}
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return wireResponse{ID: r.ID, Result: result}
}
