package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/types"
)

// socketObserver writes hub events to one WebSocket connection
type socketObserver struct {
	conn net.Conn
	mu   sync.Mutex
}

func (o *socketObserver) Send(ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(duration.SocketWrite)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(o.conn, ws.OpText, data)
}

// control answers a ping or close frame. The reply shares the write lock
// with Send so it never interleaves with an event frame.
func (o *socketObserver) control(h ws.Header, r io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(duration.SocketWrite)); err != nil {
		return err
	}
	return wsutil.ControlFrameHandler(o.conn, ws.StateServerSide)(h, r)
}

// drain reads client frames until the connection fails or closes. Data
// frames are discarded.
func (o *socketObserver) drain() error {
	rd := &wsutil.Reader{
		Source:         o.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: o.control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := o.control(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return err
		}
	}
}

// handleSocket attaches the connection to the hub until the client goes
// away. Client messages are read and discarded.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	o := &socketObserver{conn: conn}
	id := s.config.Hub.Attach(o)
	defer s.config.Hub.Detach(id)
	s.logger.Debug("observer attached", "id", id, "remote", r.RemoteAddr)

	err = o.drain()
	s.logger.Debug("observer detached", "id", id, "err", err)
}
