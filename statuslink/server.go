// Package statuslink serves a read-only, byte-framed device status channel
// for small provisioning companions.
//
// Requests are [cmd][len][payload] with at most 16 payload bytes; responses
// are [code][len][payload] and never exceed 31 bytes, where code is a
// [pkg.Code].
package statuslink

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// Server answers status requests from a device registry.
type Server struct {
	registry *device.Registry

	mutex sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a status link server over registry.
func NewServer(registry *device.Registry) *Server {
	return &Server{
		registry: registry,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx ends. Open connections are
// closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	pkg.LogInfo(pkg.ComponentLink, "status link listening",
		"addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			if err := s.HandleConn(ctx, conn); err != nil {
				pkg.LogDebug(pkg.ComponentLink, "connection closed",
					"remote", conn.RemoteAddr().String(),
					"error", err)
			}
		}()
	}

	s.mutex.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()
	s.wg.Wait()

	if ctx.Err() != nil {
		pkg.LogInfo(pkg.ComponentLink, "status link stopped")
		return nil
	}
	return errors.Wrap(err, "accept")
}

func (s *Server) track(conn net.Conn, open bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if open {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// HandleConn answers requests on rw until EOF, a framing error or ctx
// ends. A clean EOF returns nil.
func (s *Server) HandleConn(ctx context.Context, rw io.ReadWriter) error {
	for ctx.Err() == nil {
		cmd, payload, err := readFrame(rw, MaxRequestPayload)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, pkg.ErrInvalidParameter) {
				_ = writeFrame(rw, byte(pkg.CodeInvalidParameter), nil, MaxResponsePayload)
			}
			return err
		}

		code, resp := s.handle(cmd, payload)
		if err := writeFrame(rw, byte(code), resp, MaxResponsePayload); err != nil {
			return errors.Wrap(err, "write response")
		}
	}
	return nil
}

func (s *Server) handle(cmd byte, payload []byte) (pkg.Code, []byte) {
	switch cmd {
	case CmdGetStatus:
		if len(payload) != 2 {
			return pkg.CodeInvalidParameter, nil
		}
		id := device.ID(binary.LittleEndian.Uint16(payload))
		d, err := s.registry.Lookup(id)
		if err != nil {
			return pkg.CodeOf(err), nil
		}
		st := statusOf(d)
		return pkg.CodeOK, st.marshal()

	case CmdListDevices:
		devices := s.registry.Devices()
		ids := make([]device.ID, len(devices))
		for i, d := range devices {
			ids[i] = d.ID
		}
		return pkg.CodeOK, listPayload(ids)

	default:
		pkg.LogDebug(pkg.ComponentLink, "unsupported command",
			"cmd", cmd)
		return pkg.CodeUnsupported, nil
	}
}
