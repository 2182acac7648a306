// Package bridge connects the in-page shim to the agent over a local
// WebSocket. The shim streams page signals in and answers requests the
// monitor makes of the page.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fakeyudi/proctor/internal/monitor"
)

// ErrNotConnected is returned by page calls while no shim is attached.
var ErrNotConnected = errors.New("bridge: no page connected")

// Handler consumes page signals. *monitor.Monitor satisfies it.
type Handler interface {
	Handle(monitor.Signal)
}

// Frame is one message from the shim: a page signal, or a reply to a request.
type Frame struct {
	Kind    string          `json:"kind"`
	Text    string          `json:"text,omitempty"`
	Hidden  bool            `json:"hidden,omitempty"`
	URL     string          `json:"url,omitempty"`
	Markers []string        `json:"markers,omitempty"`
	ID      string          `json:"id,omitempty"`    // reply: request id
	Error   string          `json:"error,omitempty"` // reply: failure reason
	Data    json.RawMessage `json:"data,omitempty"`  // reply: op result
}

// KindReply marks a Frame answering a request.
const KindReply = "reply"

// Request is one message to the shim.
type Request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

// Operations understood by the shim.
const (
	OpHalt     = "halt"
	OpNotice   = "notice"
	OpGuards   = "guards"
	OpProbe    = "probe"
	OpSnapshot = "snapshot"
	OpCapture  = "capture"
)

// Options tune a Bridge. Zero values take defaults.
type Options struct {
	Logger      *zap.Logger
	FrameRate   rate.Limit    // inbound signal frames per second; default 50
	FrameBurst  int           // default 100
	CallTimeout time.Duration // per request when ctx has no deadline; default 5s
	// Token, when set, must be passed as the token query parameter of the
	// upgrade request.
	Token string
	// AllowedOrigins restricts which page origins may attach. Empty allows
	// any origin.
	AllowedOrigins []string
}

// Bridge serves the shim endpoint. At most one page is attached; a new
// connection replaces the previous one.
type Bridge struct {
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	handler Handler
	conn    *pageConn
}

// New returns a Bridge with no page attached.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FrameRate == 0 {
		opts.FrameRate = 50
	}
	if opts.FrameBurst == 0 {
		opts.FrameBurst = 100
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = 5 * time.Second
	}
	return &Bridge{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header and, when allowed
// is non-empty, browser requests whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.opts.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(b.opts.Token)) == 1
}

// SetHandler sets the receiver of page signals.
func (b *Bridge) SetHandler(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Connected reports whether a page is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Router returns the HTTP routes: GET /healthz and GET /ws.
func (b *Bridge) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", b.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", b.ServeWS).Methods(http.MethodGet)
	return r
}

// Serve listens on addr until ctx is done.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return b.serve(ctx, ln)
}

func (b *Bridge) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: b.Router(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	b.log.Info("bridge listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.detachAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *Bridge) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"page_connected": b.Connected(),
	})
}

// ServeWS upgrades the request and attaches the page.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.log.Warn("rejecting page without a valid token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	pc := &pageConn{
		ws:      ws,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(b.opts.FrameRate, b.opts.FrameBurst),
	}

	b.mu.Lock()
	prev := b.conn
	b.conn = pc
	h := b.handler
	b.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	b.log.Info("page attached", zap.String("remote", r.RemoteAddr))
	if h != nil {
		h.Handle(monitor.Signal{Kind: monitor.SignalAttach})
	}

	b.readLoop(pc)

	b.mu.Lock()
	if b.conn == pc {
		b.conn = nil
	}
	b.mu.Unlock()
	pc.close()
	b.log.Info("page detached", zap.String("remote", r.RemoteAddr))
}

func (b *Bridge) readLoop(pc *pageConn) {
	for {
		_, data, err := pc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("page read failed", zap.Error(err))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.Kind == KindReply {
			pc.resolve(f)
			continue
		}
		if f.Kind == string(monitor.SignalAttach) {
			continue
		}
		if !pc.limiter.Allow() {
			b.log.Debug("dropping frame over rate limit", zap.String("kind", f.Kind))
			continue
		}
		b.mu.Lock()
		h := b.handler
		b.mu.Unlock()
		if h != nil {
			h.Handle(monitor.Signal{
				Kind:    monitor.SignalKind(f.Kind),
				Text:    f.Text,
				Hidden:  f.Hidden,
				URL:     f.URL,
				Markers: f.Markers,
			})
		}
	}
}

func (b *Bridge) detachAll() {
	b.mu.Lock()
	pc := b.conn
	b.conn = nil
	b.mu.Unlock()
	if pc != nil {
		pc.close()
	}
}

// call sends op to the attached page and waits for its reply.
func (b *Bridge) call(ctx context.Context, op string, args any) (json.RawMessage, error) {
	b.mu.Lock()
	pc := b.conn
	b.mu.Unlock()
	if pc == nil {
		return nil, ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.CallTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	reply := pc.expect(id)
	defer pc.forget(id)

	if err := pc.write(Request{ID: id, Op: op, Args: args}); err != nil {
		return nil, err
	}
	select {
	case f := <-reply:
		if f.Error != "" {
			return nil, &CallError{Op: op, Msg: f.Error}
		}
		return f.Data, nil
	case <-pc.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallError is a failure reported by the shim.
type CallError struct {
	Op  string
	Msg string
}

func (e *CallError) Error() string { return "bridge: " + e.Op + ": " + e.Msg }

type pageConn struct {
	ws      *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	done    chan struct{}
	closed  bool
}

func (pc *pageConn) write(req Request) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	pc.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return pc.ws.WriteJSON(req)
}

func (pc *pageConn) expect(id string) <-chan Frame {
	ch := make(chan Frame, 1)
	pc.mu.Lock()
	pc.pending[id] = ch
	pc.mu.Unlock()
	return ch
}

func (pc *pageConn) forget(id string) {
	pc.mu.Lock()
	delete(pc.pending, id)
	pc.mu.Unlock()
}

func (pc *pageConn) resolve(f Frame) {
	pc.mu.Lock()
	ch, ok := pc.pending[f.ID]
	delete(pc.pending, f.ID)
	pc.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (pc *pageConn) close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	close(pc.done)
	pc.mu.Unlock()
	pc.ws.Close()
}
