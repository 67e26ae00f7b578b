// Package gateway exposes devices over HTTP. Consumers drive the
// dispatcher through websocket control sessions as a client of a device
// node would. Producers on the same host push raw frames with POST
// requests, and JSON snapshots and Prometheus metrics are served alongside.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/metrics"
	"github.com/ardnew/softcam/pkg"
)

// DefaultShutdownTimeout bounds graceful shutdown in Serve.
const DefaultShutdownTimeout = 5 * time.Second

// maxMessageSize bounds a single control message.
const maxMessageSize = 64 << 10

// TimestampHeader optionally carries an RFC 3339 capture time for a pushed
// frame. Frames without it are stamped on arrival.
const TimestampHeader = "X-Softcam-Timestamp"

// Server is the HTTP control gateway.
type Server struct {
	registry   *device.Registry
	dispatcher *device.Dispatcher
	injector   *device.Injector
	metrics    *metrics.Metrics

	router   *mux.Router
	upgrader websocket.Upgrader
	sessions sync.WaitGroup

	ShutdownTimeout time.Duration

	// DequeueTimeout applies to dequeue-buffer messages that carry no
	// timeout_ms. Zero waits until the stream stops or the session ends.
	DequeueTimeout time.Duration
}

// New creates a gateway. m may be nil, in which case /metrics is not
// served.
func New(registry *device.Registry, dispatcher *device.Dispatcher, m *metrics.Metrics) *Server {
	s := &Server{
		registry:   registry,
		dispatcher: dispatcher,
		injector:   device.NewInjector(registry),
		metrics:    m,
		router:     mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/devices/{id}", s.handleDevice).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/devices/{id}/frames", s.handlePushFrame).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/control", s.handleControl).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Router returns the router so callers can mount extra routes, such as
// profiling handlers, before serving.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx ends, then shuts down and waits
// for open control sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	pkg.LogInfo(pkg.ComponentGateway, "gateway listening",
		"addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		err = srv.Shutdown(shutdownCtx)
		cancel()
		<-errc
	}
	s.sessions.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "gateway")
	}
	pkg.LogInfo(pkg.ComponentGateway, "gateway stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"devices": s.registry.Len(),
		"now":     time.Now(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Devices()
	out := make([]device.Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.registry.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// handlePushFrame injects the request body as one frame. The body must be
// exactly the negotiated frame size. A blocking queue holds the request
// until space frees or the client goes away. Only producers on the local
// host may push; frames are not carried across the network.
func (s *Server) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": errorBody(
			errors.Wrapf(pkg.ErrUnsupported, "frame push from %s", r.RemoteAddr))})
		return
	}
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.registry.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := d.Format()
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(f.SizeImage)+1))
	if err != nil {
		writeError(w, errors.Wrapf(pkg.ErrFormatMismatch, "frame larger than %d bytes", f.SizeImage))
		return
	}

	var ts time.Time
	if v := r.Header.Get(TimestampHeader); v != "" {
		if ts, err = time.Parse(time.RFC3339Nano, v); err != nil {
			writeError(w, errors.Wrapf(pkg.ErrInvalidParameter, "%s %q", TimestampHeader, v))
			return
		}
	}

	seq, err := s.injector.Push(r.Context(), id, data, ts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequence": seq})
}

func isLoopback(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func deviceID(r *http.Request) (device.ID, error) {
	v := mux.Vars(r)["id"]
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(pkg.ErrInvalidParameter, "device id %q", v)
	}
	return device.ID(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(pkg.CodeOf(err)), map[string]any{"error": errorBody(err)})
}

func httpStatus(code pkg.Code) int {
	switch code {
	case pkg.CodeOK:
		return http.StatusOK
	case pkg.CodeNotFound:
		return http.StatusNotFound
	case pkg.CodeInvalidParameter, pkg.CodeInvalidFormat, pkg.CodeFormatMismatch:
		return http.StatusBadRequest
	case pkg.CodeInvalidState:
		return http.StatusConflict
	case pkg.CodeUnsupported:
		return http.StatusNotImplemented
	case pkg.CodeTimeout:
		return http.StatusGatewayTimeout
	case pkg.CodeQueueFull, pkg.CodeCapacityExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
