package wire

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msg := NewCall(NewID("1"), "ping", nil)
	if err := w.Write(context.Background(), msg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r := NewReader(&buf)
	got, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Method != "ping" || got.ID.String() != "1" {
		t.Errorf("Read() = %+v, want method=ping id=1", got)
	}
}

func TestReaderRejectsMissingContentLength(t *testing.T) {
	r := NewReader(strings.NewReader("Foo: bar\r\n\r\n{}"))
	_, err := r.Read(context.Background())
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("Read() error = %v, want *ProtocolError", err)
	}
}

func TestReaderRejectsInvalidContentLength(t *testing.T) {
	r := NewReader(strings.NewReader("Content-Length: -5\r\n\r\n"))
	_, err := r.Read(context.Background())
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("Read() error = %v, want *ProtocolError", err)
	}
}

func TestReaderCleanEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.Read(context.Background())
	if err != io.EOF {
		t.Fatalf("Read() error = %v, want io.EOF", err)
	}
}

func TestReaderToleratesBareLF(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":"9","method":"ping"}`
	raw := "Content-Length: " + strconv.Itoa(len(body)) + "\n\n" + body
	r := NewReader(strings.NewReader(raw))
	msg, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if msg.Method != "ping" {
		t.Errorf("Method = %q, want ping", msg.Method)
	}
}
