// Command wsecho is a sample WebSocket echo server: it listens on port
// 2345, echoes Text messages back to the same connection, ignores Binary
// messages, and returns 404 for any regular HTTP request.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/wshttpd/pkg/wshttpd"
	"github.com/yourusername/wshttpd/pkg/wshttpd/ws"
)

func requestHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "this is a websocket echo server only, regular http ignored", http.StatusNotFound)
}

// connections tracks each live session's Senders handle so dataReceiver can
// echo back onto the right connection. Guarded by a mutex since multiple
// goroutines may dispatch concurrently.
type connections struct {
	mu sync.Mutex
	m  map[ws.ConnectionID]ws.Senders
}

func newConnections() *connections {
	return &connections{m: make(map[ws.ConnectionID]ws.Senders)}
}

func (c *connections) add(id ws.ConnectionID, s ws.Senders) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = s
}

func (c *connections) remove(id ws.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

func (c *connections) get(id ws.ConnectionID) (ws.Senders, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	return s, ok
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conns := newConnections()

	handler, err := ws.NewHandler(
		func(url string) bool { return true },
		func(c ws.Connection) ws.Receivers {
			conns.add(c.ID, c.Senders)
			return ws.NewReceivers(
				func(id ws.ConnectionID, op ws.DataOpCode, payload []byte) {
					if op == ws.DataBinary {
						return
					}
					senders, ok := conns.get(id)
					if !ok {
						log.Error().Uint64("id", uint64(id)).Msg("unrecognised websocket connection id")
						return
					}
					if result := senders.SendData(payload, 0); result != ws.SendSuccess {
						log.Error().Stringer("result", result).Msg("failed to send data frame")
					}
				},
				func(id ws.ConnectionID, op ws.ControlOpCode, payload []byte) {
					if op == ws.ControlClose {
						conns.remove(id)
					}
				},
			)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct websocket handler")
	}

	srv, err := wshttpd.New(wshttpd.Config{
		Port:                    2345,
		MaxSocketBytesToReceive: 1024,
		Handler:                 requestHandler,
		WebSocket:               handler,
		Logger:                  log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	log.Info().Int("port", 2345).Msg("wsecho listening")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
