package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// DefaultMaxLineSize bounds a single record. Longer lines are discarded as malformed.
const DefaultMaxLineSize = 16 * 1024 * 1024

var codec = sonic.ConfigStd

// Decoder splits a chunked byte stream into newline-terminated records.
// A partial trailing line is kept until the chunk that completes it arrives.
type Decoder struct {
	buf         []byte
	maxLine     int
	discarding  bool
	onMalformed func(*MalformedLineError)
}

// NewDecoder creates a decoder. onMalformed may be nil.
func NewDecoder(onMalformed func(*MalformedLineError)) *Decoder {
	return &Decoder{maxLine: DefaultMaxLineSize, onMalformed: onMalformed}
}

// SetMaxLineSize overrides DefaultMaxLineSize.
func (d *Decoder) SetMaxLineSize(n int) {
	if n > 0 {
		d.maxLine = n
	}
}

// Feed consumes one chunk and returns every record completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []*Message {
	var out []*Message
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.buffer(chunk)
			break
		}
		if d.discarding {
			d.discarding = false
		} else {
			d.buffer(chunk[:i])
			if !d.discarding {
				if msg := d.decode(d.buf); msg != nil {
					out = append(out, msg)
				}
			}
			d.discarding = false
		}
		d.buf = d.buf[:0]
		chunk = chunk[i+1:]
	}
	return out
}

// Pending returns the number of buffered bytes of an incomplete line.
func (d *Decoder) Pending() int { return len(d.buf) }

func (d *Decoder) buffer(p []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(p) > d.maxLine {
		d.report(d.buf, fmt.Errorf("line exceeds %d bytes", d.maxLine))
		d.buf = d.buf[:0]
		d.discarding = true
		return
	}
	d.buf = append(d.buf, p...)
}

func (d *Decoder) decode(line []byte) *Message {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	// d.buf is reused for the next line; decoded raw fields must not alias it.
	line = append([]byte(nil), line...)
	msg, err := DecodeLine(line)
	if err != nil {
		d.report(line, err)
		return nil
	}
	return msg
}

func (d *Decoder) report(line []byte, err error) {
	if d.onMalformed == nil {
		return
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	d.onMalformed(&MalformedLineError{Line: cp, Err: err})
}

// ReadFrom reads r until EOF or error, emitting each decoded record.
// A clean EOF returns nil.
func (d *Decoder) ReadFrom(r io.Reader, emit func(*Message)) error {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			for _, msg := range d.Feed(chunk[:n]) {
				emit(msg)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// DecodeLine decodes a single record and classifies it by field presence.
func DecodeLine(line []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := codec.Unmarshal(line, &fields); err != nil {
		return nil, err
	}
	msg := &Message{}
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		var id ID
		if err := id.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		msg.ID = &id
	}
	if raw, ok := fields["method"]; ok {
		if err := codec.Unmarshal(raw, &msg.Method); err != nil {
			return nil, fmt.Errorf("method: %w", err)
		}
	}
	if raw, ok := fields["params"]; ok {
		msg.Params = raw
	}
	if raw, ok := fields["result"]; ok {
		msg.Result = raw
		msg.hasResult = true
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		var rerr RemoteError
		if err := codec.Unmarshal(raw, &rerr); err != nil {
			return nil, fmt.Errorf("error object: %w", err)
		}
		msg.Error = &rerr
	}
	if msg.Kind() == KindInvalid {
		return nil, errors.New("record is neither request, response nor notification")
	}
	return msg, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encoder writes one JSON record per line. Each record is a single Write
// under a lock, so concurrent writers never interleave mid-record.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode serializes v and appends a newline.
func (e *Encoder) Encode(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
