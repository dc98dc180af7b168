// Package wire provides protobuf message framing for the mobility protocol.
//
// Every message is a google.protobuf.Struct, length-delimited using
// protobuf's standard varint encoding. Requests carry an id, a method name
// and an argument object; responses carry the same id and either a result
// value or an error object.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/errors"
)

// Envelope field names.
const (
	fieldID     = "id"
	fieldMethod = "method"
	fieldArgs   = "args"
	fieldResult = "result"
	fieldError  = "error"

	fieldCode    = "code"
	fieldName    = "name"
	fieldMessage = "message"
)

// Envelope is one protocol message.
type Envelope struct {
	ID uint64

	// Request
	Method string
	Args   map[string]any

	// Response
	Result any
	Error  *Error
}

// IsRequest returns true if the envelope names a method.
func (e *Envelope) IsRequest() bool {
	return e.Method != ""
}

// Error is the error object of a failed response.
type Error struct {
	Code    int32
	Name    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap maps the code back to its sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	return errors.CodeToError(e.Code)
}

// Marshal converts the envelope to its protobuf form.
func (e *Envelope) Marshal() (*structpb.Struct, error) {
	m := map[string]any{fieldID: float64(e.ID)}

	if e.Method != "" {
		m[fieldMethod] = e.Method
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		m[fieldArgs] = args
	}
	if e.Error != nil {
		m[fieldError] = map[string]any{
			fieldCode:    float64(e.Error.Code),
			fieldName:    e.Error.Name,
			fieldMessage: e.Error.Message,
		}
	} else if e.Method == "" {
		m[fieldResult] = e.Result
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %d: %w", e.ID, err)
	}
	return s, nil
}

// Unmarshal decodes an envelope from its protobuf form.
func Unmarshal(s *structpb.Struct) (*Envelope, error) {
	fields := s.GetFields()

	id, ok := fields[fieldID]
	if !ok {
		return nil, errors.NewMissingField(fieldID)
	}
	num, ok := id.GetKind().(*structpb.Value_NumberValue)
	if !ok || num.NumberValue < 0 {
		return nil, errors.NewInvalidArgument(fieldID, "not a non-negative number")
	}

	env := &Envelope{ID: uint64(num.NumberValue)}

	if v, ok := fields[fieldMethod]; ok {
		env.Method = v.GetStringValue()
		if env.Method == "" {
			return nil, errors.NewInvalidArgument(fieldMethod, "not a non-empty string")
		}
		env.Args = map[string]any{}
		if a, ok := fields[fieldArgs]; ok && a.GetStructValue() != nil {
			env.Args = a.GetStructValue().AsMap()
		}
		return env, nil
	}

	if v, ok := fields[fieldError]; ok {
		ef := v.GetStructValue().GetFields()
		env.Error = &Error{
			Code:    int32(ef[fieldCode].GetNumberValue()),
			Name:    ef[fieldName].GetStringValue(),
			Message: ef[fieldMessage].GetStringValue(),
		}
		return env, nil
	}

	if v, ok := fields[fieldResult]; ok {
		env.Result = v.AsInterface()
	}
	return env, nil
}

// Reader reads length-delimited envelopes from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int
	mu      sync.Mutex
}

// NewReader creates a Reader with the default message size limit.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, config.DefaultMaxMessageSize)
}

// NewReaderSize creates a Reader rejecting messages above maxSize bytes.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxMessageSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// Read reads and decodes the next envelope. It returns io.EOF unwrapped
// when the stream ends cleanly between messages.
func (r *Reader) Read() (*Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{MaxSize: int64(r.maxSize)}
	if err := opts.UnmarshalFrom(r.r, s); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	return Unmarshal(s)
}

// Writer writes length-delimited envelopes to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes an envelope with length prefix.
func (w *Writer) Write(env *Envelope) error {
	s, err := env.Marshal()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, s); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter, maxSize int) *Conn {
	return &Conn{
		Reader: NewReaderSize(rw, maxSize),
		Writer: NewWriter(rw),
	}
}

// =============================================================================
// Envelope Helpers
// =============================================================================

// NewRequest creates a request envelope.
func NewRequest(id uint64, method string, args map[string]any) *Envelope {
	return &Envelope{ID: id, Method: method, Args: args}
}

// NewResult creates a success response.
func NewResult(id uint64, result any) *Envelope {
	return &Envelope{ID: id, Result: result}
}

// NewError creates an error response with the given code and message.
// Error codes should be from the errors package (errors.Code*).
func NewError(id uint64, code int32, msg string) *Envelope {
	return &Envelope{
		ID: id,
		Error: &Error{
			Code:    code,
			Name:    errors.CodeName(code),
			Message: msg,
		},
	}
}

// NewErrorFromErr creates an error response from a Go error.
// It maps the error to its wire code using errors.ErrorToCode.
func NewErrorFromErr(id uint64, err error) *Envelope {
	return NewError(id, errors.ErrorToCode(err), err.Error())
}

// NewErrorf creates an error response with a formatted message.
func NewErrorf(id uint64, code int32, format string, args ...interface{}) *Envelope {
	return NewError(id, code, fmt.Sprintf(format, args...))
}
