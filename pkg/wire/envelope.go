package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Error codes used in error envelopes. The parse/request codes follow the
// JSON-RPC convention; positive codes are application-level.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeExecutionError = 1000
	CodeSessionError   = 1001
	CodeShuttingDown   = 1002
)

// Methods understood by the worker.
const (
	MethodExecute    = "execute"
	MethodHealth     = "health"
	MethodShutdown   = "shutdown"
	MethodLoadBundle = "loadBundle"
)

// Request is one request envelope. ID is a caller-supplied correlation
// identifier that the worker must echo in its response.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorBody is the error member of a response envelope.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one response envelope: either Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// MaxLineBytes bounds a single envelope line. Inline input files travel
// inside the envelope, so the limit is generous.
const MaxLineBytes = 64 * 1024 * 1024

// Reader reads newline-delimited envelopes from a stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for envelope reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next raw line without the trailing newline.
// io.EOF is returned verbatim when the stream ends cleanly.
func (r *Reader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > MaxLineBytes {
			return nil, fmt.Errorf("wire: line exceeds %d bytes", MaxLineBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// ReadRequest reads and decodes the next request envelope.
func (r *Reader) ReadRequest() (*Request, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("wire: decoding request: %w", err)
	}
	return &req, nil
}

// ReadResponse reads and decodes the next response envelope.
func (r *Reader) ReadResponse() (*Response, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("wire: decoding response: %w", err)
	}
	return &resp, nil
}

// ReadBytes reads exactly n raw bytes from the stream. Used after a
// loadBundle envelope announced a binary bundle of that size.
func (r *Reader) ReadBytes(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, fmt.Errorf("wire: reading %d bundle bytes: %w", n, err)
	}
	return buf, nil
}

// Writer writes newline-delimited envelopes to a stream. Writes are
// serialized so concurrent senders cannot interleave partial lines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for envelope writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encoding envelope: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("wire: writing envelope: %w", err)
	}
	return nil
}

// WriteRequest sends a request envelope.
func (w *Writer) WriteRequest(req *Request) error {
	return w.writeLine(req)
}

// WriteResponse sends a response envelope.
func (w *Writer) WriteResponse(resp *Response) error {
	return w.writeLine(resp)
}

// WriteResult sends a success response with the given result payload.
func (w *Writer) WriteResult(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("wire: encoding result: %w", err)
	}
	return w.writeLine(&Response{ID: id, Result: data})
}

// WriteError sends an error response. The id may be empty when the request
// line could not be parsed far enough to recover one.
func (w *Writer) WriteError(id string, code int, message string) error {
	return w.writeLine(&Response{ID: id, Error: &ErrorBody{Code: code, Message: message}})
}

// WriteBytes writes raw bytes to the stream, holding the line lock so a
// bundle cannot interleave with an envelope.
func (w *Writer) WriteBytes(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("wire: writing bundle bytes: %w", err)
	}
	return nil
}
