package ws

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Upgrade-gate sentinel errors. TryUpgrade returns ErrNotHijackable after it
// has already written a 500 response, so the caller must not write another.
// TryUpgrade itself never returns ErrNotWebSocketRequest: it reports a
// request that is not an upgrade as (false, nil).
var (
	ErrNotWebSocketRequest = errors.New("wshttpd: request is not a WebSocket upgrade")
	ErrNotHijackable       = errors.New("wshttpd: response writer does not support hijacking")
)

// headerContains reports whether header h's comma-separated value for key
// contains token, matched case-insensitively on both the token and the
// field values, per RFC 6455 Section 4.2.1's Connection/Upgrade matching
// rules (several proxies send "Connection: keep-alive, Upgrade").
func headerContains(h http.Header, key, token string) bool {
	for _, field := range h.Values(key) {
		for _, part := range strings.Split(field, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// IsWebSocketUpgrade reports whether r carries the headers RFC 6455 Section
// 4.2.1 requires for an upgrade request, without consuming the body or
// checking the URL path against a Handler.
func IsWebSocketUpgrade(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if !r.ProtoAtLeast(1, 1) {
		return false
	}
	if r.Host == "" {
		return false
	}
	if !headerContains(r.Header, "Connection", "Upgrade") {
		return false
	}
	if !headerContains(r.Header, "Upgrade", "websocket") {
		return false
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return false
	}
	return r.Header.Get("Sec-WebSocket-Key") != ""
}

// TryUpgrade is the HTTP upgrade gate: it validates
// the handshake request, consults handler.IsHandled, and on acceptance
// hijacks the connection, writes the 101 response, constructs the Session,
// registers it with scheduler, and calls handler.ConnectionEstablished.
//
// Returns true once TryUpgrade has taken the request over (upgraded, or
// failed after writing an error response or hijacking the connection), so
// the caller's mux should not also write a response. Returns false, nil for
// a request that isn't a WebSocket upgrade or whose URL handler.IsHandled
// does not claim, so the caller can fall through to its normal HTTP handler.
func TryUpgrade(
	w http.ResponseWriter,
	r *http.Request,
	handler *Handler,
	scheduler *Scheduler,
	maxReceiveChunk int,
	log zerolog.Logger,
) (bool, error) {
	if !IsWebSocketUpgrade(r) {
		return false, nil
	}

	if !handler.IsHandled(r.URL.Path) {
		return false, nil
	}

	key := r.Header.Get("Sec-WebSocket-Key")

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return true, ErrNotHijackable
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return true, err
	}

	if err := writeUpgradeResponse(rw.Writer, key); err != nil {
		conn.Close()
		return true, err
	}

	var extraData []byte
	if rw.Reader.Buffered() > 0 {
		extraData = make([]byte, rw.Reader.Buffered())
		_, _ = rw.Reader.Read(extraData)
	}

	id := globalConnectionIDs.Next()
	session := NewSession(id, r.URL.Path, conn, maxReceiveChunk, log)

	receivers := handler.ConnectionEstablished(Connection{
		ID:      id,
		URL:     r.URL.Path,
		Senders: session.Senders,
	})
	session.SetReceivers(receivers)

	if !session.Feed(extraData) {
		session.Close()
		return true, nil
	}

	if err := scheduler.AddSession(session); err != nil {
		log.Warn().Err(err).Uint64("id", uint64(id)).Msg("session not pollable, closing")
		session.Close()
		return true, err
	}

	return true, nil
}

// writeUpgradeResponse writes the 101 handshake response bytes directly to
// the hijacked connection's buffered writer, RFC 6455 Section 4.2.2.
func writeUpgradeResponse(w *bufio.Writer, wsKey string) error {
	accept := ComputeAcceptKey(wsKey)
	if _, err := fmt.Fprintf(w,
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n", accept); err != nil {
		return err
	}
	return w.Flush()
}
