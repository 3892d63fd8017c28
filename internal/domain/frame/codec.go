package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned when a record cannot be decoded.
var ErrMalformed = errors.New("malformed frame")

const hexDigits = "0123456789abcdef"

// Encode renders f as a complete record, trailer included.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(len(f.Content) + 96)
	buf.WriteString(Prefix)
	buf.WriteString(`{"data": {"messageType": `)
	writeQuoted(&buf, string(f.MessageType))
	buf.WriteString(`, "content": `)
	writeQuoted(&buf, f.Content)
	buf.WriteString(`}, "dataType": `)
	writeQuoted(&buf, string(f.DataType))
	buf.WriteString("}\n\n")
	return buf.Bytes()
}

// writeQuoted writes s as a JSON string, escaping only quotes, backslashes
// and control characters. Invalid UTF-8 becomes U+FFFD.
func writeQuoted(buf *bytes.Buffer, s string) {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		buf.WriteString(s[start:i])
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		}
		start = i + 1
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}

type wirePayload struct {
	Data struct {
		MessageType MessageType `json:"messageType"`
		Content     string      `json:"content"`
	} `json:"data"`
	DataType DataType `json:"dataType"`
}

// Decode parses one record. The trailing blank line is optional.
func Decode(record []byte) (Frame, error) {
	trimmed := bytes.TrimRight(record, "\r\n")
	if !bytes.HasPrefix(trimmed, []byte(Prefix)) {
		return Frame{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}
	return decodePayload(bytes.TrimSpace(trimmed[len(Prefix):]))
}

func decodePayload(payload []byte) (Frame, error) {
	var wire wirePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Data.MessageType == "" {
		return Frame{}, fmt.Errorf("%w: missing messageType", ErrMalformed)
	}
	return Frame{
		MessageType: wire.Data.MessageType,
		Content:     wire.Data.Content,
		DataType:    wire.DataType,
	}, nil
}

// Reader pulls frames off an event stream. Comment lines and fields other
// than data are skipped.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next frame, or io.EOF once the stream ends cleanly.
func (r *Reader) Next() (Frame, error) {
	var data strings.Builder
	hasData := false
	for {
		line, err := r.br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Frame{}, err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if hasData {
				return decodePayload([]byte(data.String()))
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, Prefix):
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[len(Prefix):], " "))
			hasData = true
		}

		if eof {
			if hasData {
				return decodePayload([]byte(data.String()))
			}
			return Frame{}, io.EOF
		}
	}
}
