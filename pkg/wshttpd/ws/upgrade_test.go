package ws

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func validUpgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return r
}

func TestIsWebSocketUpgrade(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *http.Request)
		wantOK  bool
	}{
		{"valid request", func(r *http.Request) {}, true},
		{"wrong method", func(r *http.Request) { r.Method = http.MethodPost }, false},
		{"missing connection header", func(r *http.Request) { r.Header.Del("Connection") }, false},
		{"missing upgrade header", func(r *http.Request) { r.Header.Del("Upgrade") }, false},
		{"wrong version", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Version", "8") }, false},
		{"missing key", func(r *http.Request) { r.Header.Del("Sec-WebSocket-Key") }, false},
		{"connection header among multiple tokens", func(r *http.Request) {
			r.Header.Set("Connection", "keep-alive, Upgrade")
		}, true},
		{"case-insensitive upgrade token", func(r *http.Request) {
			r.Header.Set("Upgrade", "WebSocket")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validUpgradeRequest()
			tt.mutate(r)
			if got := IsWebSocketUpgrade(r); got != tt.wantOK {
				t.Errorf("IsWebSocketUpgrade() = %v, want %v", got, tt.wantOK)
			}
		})
	}
}

func TestWriteUpgradeResponseAcceptKey(t *testing.T) {
	var buf []byte
	bw := bufio.NewWriter(&sliceWriter{&buf})

	if err := writeUpgradeResponse(bw, "dGhlIHNhbXBsZSBub25jZQ=="); err != nil {
		t.Fatalf("writeUpgradeResponse: %v", err)
	}

	got := string(buf)
	want := "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n"
	if !strings.Contains(got, want) {
		t.Errorf("response %q does not contain %q", got, want)
	}
	if !strings.Contains(got, "HTTP/1.1 101 Switching Protocols") {
		t.Errorf("response %q missing 101 status line", got)
	}
	if !strings.Contains(got, "Upgrade: websocket") || !strings.Contains(got, "Connection: Upgrade") {
		t.Errorf("response %q missing required headers", got)
	}
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
