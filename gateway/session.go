package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

type heldBuffer struct {
	device device.ID
	index  int
}

// session is one websocket control connection. Dequeue requests run
// concurrently so a blocked dequeue does not stall stream-off on the same
// session; all other requests run in arrival order.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex

	mutex sync.Mutex
	held  map[heldBuffer]uint64 // Sequence of the frame each buffer holds

	pending sync.WaitGroup
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.LogWarn(pkg.ComponentGateway, "websocket upgrade failed",
			"remote", r.RemoteAddr,
			"error", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := &session{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		held:   make(map[heldBuffer]uint64),
	}
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	pkg.LogInfo(pkg.ComponentGateway, "control session opened",
		"session", sess.id,
		"remote", r.RemoteAddr)

	sess.run(r.Context())
}

func (sess *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		sess.pending.Wait()
		sess.releaseAll()
		sess.conn.Close()
		pkg.LogInfo(pkg.ComponentGateway, "control session closed",
			"session", sess.id)
	}()

	// Unblock ReadJSON when the server shuts down.
	go func() {
		<-ctx.Done()
		sess.conn.Close()
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	for {
		var msg Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				ctx.Err() == nil {
				pkg.LogDebug(pkg.ComponentGateway, "websocket read error",
					"session", sess.id,
					"error", err)
			}
			return
		}

		op, err := device.ParseOp(msg.Op)
		if err != nil {
			sess.reply(&Reply{Seq: msg.Seq, Error: errorBody(err)})
			continue
		}

		if op == device.OpDequeueBuffer {
			sess.pending.Add(1)
			go func(msg Message) {
				defer sess.pending.Done()
				sess.handle(ctx, op, &msg)
			}(msg)
			continue
		}
		sess.handle(ctx, op, &msg)
	}
}

func (sess *session) handle(ctx context.Context, op device.Op, msg *Message) {
	req := msg.request(op)
	if op == device.OpDequeueBuffer && req.Timeout == 0 {
		req.Timeout = sess.server.DequeueTimeout
	}
	resp, err := sess.server.dispatcher.Dispatch(ctx, msg.Device, req)
	sess.server.metrics.RecordRequest(op, pkg.CodeOf(err))
	if err != nil {
		sess.reply(&Reply{Seq: msg.Seq, Error: errorBody(err)})
		return
	}

	switch op {
	case device.OpDequeueBuffer:
		sess.hold(heldBuffer{msg.Device, resp.Buffer.Index}, resp.Buffer.Sequence)
	case device.OpReleaseBuffer:
		sess.forget(heldBuffer{msg.Device, msg.Index})
	case device.OpSetFormat:
		// The reset freed every buffer of the device.
		sess.forgetDevice(msg.Device)
	}
	sess.reply(&Reply{Seq: msg.Seq, OK: true, Response: resp})
}

func (sess *session) hold(b heldBuffer, seq uint64) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	sess.held[b] = seq
}

func (sess *session) forget(b heldBuffer) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	delete(sess.held, b)
}

func (sess *session) forgetDevice(id device.ID) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	for b := range sess.held {
		if b.device == id {
			delete(sess.held, b)
		}
	}
}

// releaseAll returns every buffer the session still holds. A buffer that
// has since been reused for a newer frame belongs to someone else and is
// skipped.
func (sess *session) releaseAll() {
	sess.mutex.Lock()
	held := sess.held
	sess.held = make(map[heldBuffer]uint64)
	sess.mutex.Unlock()

	for b, seq := range held {
		d, err := sess.server.registry.Lookup(b.device)
		if err != nil {
			continue
		}
		if err := d.ReleaseFrame(b.index, seq); err != nil {
			pkg.LogDebug(pkg.ComponentGateway, "release on close failed",
				"session", sess.id,
				"device", b.device,
				"index", b.index,
				"error", err)
		}
	}
}

func (sess *session) reply(r *Reply) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteJSON(r); err != nil {
		pkg.LogDebug(pkg.ComponentGateway, "websocket write failed",
			"session", sess.id,
			"error", err)
	}
}
