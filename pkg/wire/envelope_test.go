package wire

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	params, _ := json.Marshal(map[string]string{"code": "1+1"})
	req := &Request{ID: "req_1", Method: MethodExecute, Params: params}
	if err := w.WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}

	// Exactly one newline-terminated line.
	if got := buf.String(); !strings.HasSuffix(got, "\n") || strings.Count(got, "\n") != 1 {
		t.Errorf("expected single newline-terminated line, got %q", got)
	}

	r := NewReader(&buf)
	got, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if got.ID != "req_1" || got.Method != MethodExecute {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteError("req_2", CodeParseError, "bad line"); err != nil {
		t.Fatalf("WriteError failed: %v", err)
	}

	resp, err := NewReader(&buf).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error body")
	}
	if resp.Error.Code != CodeParseError || resp.Error.Message != "bad line" {
		t.Errorf("error body = %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Error("error response should carry no result")
	}
}

func TestReadRequestMalformed(t *testing.T) {
	r := NewReader(strings.NewReader("{not json}\n"))
	if _, err := r.ReadRequest(); err == nil {
		t.Fatal("expected decode error for malformed line")
	}
}

func TestReadLineEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, err := r.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestMultipleEnvelopesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, id := range []string{"a", "b", "c"} {
		if err := w.WriteResult(id, map[string]bool{"ok": true}); err != nil {
			t.Fatalf("WriteResult(%s): %v", id, err)
		}
	}

	r := NewReader(&buf)
	for _, want := range []string{"a", "b", "c"} {
		resp, err := r.ReadResponse()
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if resp.ID != want {
			t.Errorf("response ID = %q, want %q", resp.ID, want)
		}
	}
}

func TestReadBytesAfterEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteRequest(&Request{ID: "x", Method: MethodLoadBundle})
	raw := []byte{0x00, 0x01, 0xFF, 0x07}
	w.WriteBytes(raw)

	r := NewReader(&buf)
	if _, err := r.ReadRequest(); err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	got, err := r.ReadBytes(int64(len(raw)))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("ReadBytes = %v, want %v", got, raw)
	}
}
