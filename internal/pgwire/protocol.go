package pgwire

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"duck-gateway/internal/domain"
)

// Startup codes carried in place of a protocol version.
const (
	protocolVersion3 int32 = 196608
	sslRequestCode   int32 = 80877103
	gssEncRequest    int32 = 80877104
	cancelRequest    int32 = 80877102
)

const (
	maxStartupBytes = 10 << 10
	maxMessageBytes = 1 << 20
	oidText         = 25
)

// SQLSTATE codes sent to clients.
const (
	stateFeatureNotSupported = "0A000"
	stateInvalidAuthSpec     = "28000"
	stateInsufficientPriv    = "42501"
	stateSyntaxError         = "42601"
	stateTooManyConnections  = "53300"
	stateQueryCanceled       = "57014"
	stateIOError             = "58030"
	stateProtocolViolation   = "08P01"
	stateInternal            = "XX000"
)

// sqlState maps a gateway error to the SQLSTATE a Postgres client expects.
func sqlState(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return stateQueryCanceled
	}
	switch domain.ClassOf(err) {
	case domain.ErrorClassPolicyViolation:
		return stateInsufficientPriv
	case domain.ErrorClassMalformedInput:
		return stateSyntaxError
	case domain.ErrorClassResourceExhausted:
		return stateTooManyConnections
	case domain.ErrorClassExecutionTimeout:
		return stateQueryCanceled
	case domain.ErrorClassAuditDegraded:
		return stateIOError
	default:
		return stateInternal
	}
}

// readStartup reads one length-prefixed startup packet.
func readStartup(r io.Reader) (code int32, payload []byte, err error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := int(binary.BigEndian.Uint32(header[0:4]))
	code = int32(binary.BigEndian.Uint32(header[4:8]))
	if length < 8 || length > maxStartupBytes {
		return code, nil, fmt.Errorf("invalid startup packet length %d", length)
	}
	payload = make([]byte, length-8)
	if _, err := io.ReadFull(r, payload); err != nil {
		return code, nil, err
	}
	return code, payload, nil
}

// readMessage reads one typed frontend message.
func readMessage(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := int(binary.BigEndian.Uint32(header[1:5]))
	if length < 4 || length > maxMessageBytes {
		return header[0], nil, fmt.Errorf("invalid message length %d", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return header[0], nil, err
	}
	return header[0], payload, nil
}

// startupParams decodes the NUL-separated key/value list of a startup
// packet.
func startupParams(payload []byte) map[string]string {
	params := make(map[string]string)
	for len(payload) > 0 {
		key, rest, ok := cutCString(payload)
		if !ok || key == "" {
			break
		}
		value, rest, ok := cutCString(rest)
		if !ok {
			break
		}
		params[key] = value
		payload = rest
	}
	return params
}

func cutCString(b []byte) (string, []byte, bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return "", nil, false
}

// message accumulates one backend message body.
type message struct {
	typ  byte
	body []byte
}

func newMessage(typ byte) *message { return &message{typ: typ} }

func (m *message) int16(v int) *message {
	m.body = binary.BigEndian.AppendUint16(m.body, uint16(v))
	return m
}

func (m *message) int32(v int32) *message {
	m.body = binary.BigEndian.AppendUint32(m.body, uint32(v))
	return m
}

func (m *message) cstring(s string) *message {
	m.body = append(append(m.body, s...), 0)
	return m
}

func (m *message) bytes(b []byte) *message {
	m.body = append(m.body, b...)
	return m
}

func (m *message) writeTo(w *bufio.Writer) error {
	if err := w.WriteByte(m.typ); err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(4+len(m.body)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(m.body)
	return err
}

func writeAuthOK(w *bufio.Writer) error {
	return newMessage('R').int32(0).writeTo(w)
}

func writeParameterStatus(w *bufio.Writer, key, value string) error {
	return newMessage('S').cstring(key).cstring(value).writeTo(w)
}

func writeBackendKeyData(w *bufio.Writer, key backendKey) error {
	return newMessage('K').int32(key.processID).int32(key.secretKey).writeTo(w)
}

func writeReady(w *bufio.Writer) error {
	return newMessage('Z').bytes([]byte{'I'}).writeTo(w)
}

func writeEmptyQuery(w *bufio.Writer) error {
	return newMessage('I').writeTo(w)
}

// writeError sends an ErrorResponse. detail is omitted when empty.
func writeError(w *bufio.Writer, code, msg, detail string) error {
	m := newMessage('E').
		bytes([]byte{'S'}).cstring("ERROR").
		bytes([]byte{'V'}).cstring("ERROR").
		bytes([]byte{'C'}).cstring(code).
		bytes([]byte{'M'}).cstring(msg)
	if detail != "" {
		m.bytes([]byte{'D'}).cstring(detail)
	}
	m.body = append(m.body, 0)
	return m.writeTo(w)
}

// writeRowDescription describes every column as text.
func writeRowDescription(w *bufio.Writer, columns []string) error {
	m := newMessage('T').int16(len(columns))
	for _, col := range columns {
		// no table OID or attribute number, variable width, no modifier,
		// text format
		m.cstring(col).int32(0).int16(0).int32(oidText).int16(-1).int32(-1).int16(0)
	}
	return m.writeTo(w)
}

func writeDataRow(w *bufio.Writer, row []interface{}) error {
	m := newMessage('D').int16(len(row))
	for _, v := range row {
		if v == nil {
			m.int32(-1)
			continue
		}
		text := formatValue(v)
		m.int32(int32(len(text))).bytes([]byte(text))
	}
	return m.writeTo(w)
}

func writeCommandComplete(w *bufio.Writer, tag string) error {
	return newMessage('C').cstring(tag).writeTo(w)
}

// formatValue renders a result value in Postgres text format.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return `\x` + hex.EncodeToString(x)
	case bool:
		if x {
			return "t"
		}
		return "f"
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999Z07:00")
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
