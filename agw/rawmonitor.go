package agw

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/n0call/agwgo/ax25"
)

// RawMonitor tees a RawSocket's decoded packets to any number of connected
// WebSocket clients, grounded on agent/websocket_agent.go. It never
// injects frames; it is pure fan-out, per SPEC_FULL.md §4.16.
type RawMonitor struct {
	upgrader websocket.Upgrader
	socket   *RawSocket

	log *log.Entry
}

// monitorFrame is the JSON shape pushed to each WebSocket client.
type monitorFrame struct {
	Port int    `json:"port"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Info string `json:"info,omitempty"`
}

// NewRawMonitor wraps socket for WebSocket fan-out. Register its
// ServeHTTP on whatever mux the application runs; NewRawMonitor itself
// opens no listener.
func NewRawMonitor(socket *RawSocket) *RawMonitor {
	return &RawMonitor{
		upgrader: websocket.Upgrader{},
		socket:   socket,
		log:      log.WithField("component", "agw.RawMonitor"),
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams every frame
// observed on the RawSocket (from the moment of connection onward) as JSON
// text messages, until a write fails. Closing the RawSocket does not end
// the stream: it unsubscribes but never closes Packets.
func (m *RawMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("upgrading to WebSocket failed")
		return
	}
	defer conn.Close()

	for pkt := range m.socket.Packets {
		if err := conn.WriteJSON(m.monitorFrameOf(pkt)); err != nil {
			m.log.WithError(err).Debug("WebSocket write failed, closing")
			return
		}
	}
}

func (m *RawMonitor) monitorFrameOf(pkt ax25.Packet) monitorFrame {
	return monitorFrame{
		Port: int(m.socket.Port),
		From: pkt.From.String(),
		To:   pkt.To.String(),
		Info: string(pkt.Info),
	}
}
