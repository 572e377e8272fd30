// devrelay is a local stand-in for the production event relay: POST an
// event to /emit and every WebSocket client connected to /ws receives it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/gnasty-alerts/internal/relay"
)

type hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[int]chan []byte)}
}

func (h *hub) add() (int, chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan []byte, 16)
	h.clients[id] = ch
	return id, ch
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// broadcast drops frames for clients that cannot keep up.
func (h *hub) broadcast(data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for _, ch := range h.clients {
		select {
		case ch <- data:
			sent++
		default:
		}
	}
	return sent
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8791", "HTTP listen address")
	flag.Parse()

	h := newHub()

	log.Printf("devrelay listening on %s", addr)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		// validate the same way the engine will
		ev, err := relay.DecodeEvent(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sent := h.broadcast(raw)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"id":      ev.ID,
			"channel": ev.Channel,
			"clients": sent,
		})
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Printf("devrelay: accept: %v", err)
			return
		}

		id, ch := h.add()
		defer h.remove(id)
		log.Printf("devrelay: client %d connected", id)
		defer log.Printf("devrelay: client %d gone", id)

		ctx := r.Context()
		go func() {
			// drain reads so pings and close frames are processed
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					return
				}
			}
		}()

		for data := range ch {
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("devrelay: %v", err)
	}
}
