package lampd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"dev.acmcsuf.com/christmas/lib/leddraw"
	"github.com/gobwas/ws"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"gopkg.in/typ.v4/sync2"
)

// ErrKicked is the cause of sessions closed by KickAllConnections.
var ErrKicked = errors.New("kicked")

// ServerOpts are options for a server.
type ServerOpts struct {
	// Logger is the logger to use for the server.
	Logger *slog.Logger
	// HTTPUpgrader is the HTTP-to-Websocket upgrader to use for the server.
	HTTPUpgrader ws.HTTPUpgrader
}

// Server streams the frames written to the strip to websocket viewers.
// It implements both PixelSink and http.Handler.
type Server struct {
	opts        ServerOpts
	connections sync2.Map[*Session, sessionControl]

	frameMu sync.Mutex
	frame   []byte
}

type sessionControl struct {
	cancel context.CancelCauseFunc
}

var (
	_ PixelSink    = (*Server)(nil)
	_ http.Handler = (*Server)(nil)
)

// NewServer creates a new server.
func NewServer(opts ServerOpts) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts: opts,
	}
}

// KickAllConnections kicks all connections from the server.
// Optionally, a reason can be provided.
func (s *Server) KickAllConnections(reason string) {
	err := ErrKicked
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrKicked, reason)
	}

	s.connections.Range(func(session *Session, ctrl sessionControl) bool {
		s.opts.Logger.Info(
			"kicking viewer",
			"session", session.ID(),
			"reason", reason)

		ctrl.cancel(err)
		return true
	})
}

// SetLEDs implements PixelSink. The frame is packed as R, G, B bytes and
// queued for every connected session; slow sessions only see the latest
// frame.
func (s *Server) SetLEDs(strip leddraw.LEDStrip) error {
	frame := make([]byte, 0, len(strip)*3)
	for _, led := range strip {
		frame = append(frame, led.R, led.G, led.B)
	}

	s.frameMu.Lock()
	s.frame = frame
	s.frameMu.Unlock()

	s.connections.Range(func(session *Session, _ sessionControl) bool {
		session.queueFrame()
		return true
	})
	return nil
}

func (s *Server) latestFrame() []byte {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	return s.frame
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsconn, _, _, err := s.opts.HTTPUpgrader.Upgrade(r, w)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to upgrade HTTP: %v", err), http.StatusBadRequest)
		return
	}

	session := s.newSession(wsconn)

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	s.addSession(session, cancel)
	defer s.connections.Delete(session)

	session.logger.Debug("viewer connected")

	if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		session.logger.Warn(
			"viewer session ended with error",
			"error", err)
		return
	}

	session.logger.Debug("viewer disconnected")
}

func (s *Server) newSession(conn net.Conn) *Session {
	id := uuid.Must(uuid.NewV7())
	logger := s.opts.Logger.With(
		"session", id.String(),
		"addr", conn.RemoteAddr())

	return &Session{
		id:     id,
		ws:     newWebsocketServer(conn, logger),
		logger: logger,
		server: s,
		frames: make(chan struct{}, 1),
	}
}

func (s *Server) addSession(session *Session, cancel context.CancelCauseFunc) {
	s.connections.Store(session, sessionControl{cancel: cancel})
	if s.latestFrame() != nil {
		session.queueFrame()
	}
}

// Session is a single websocket viewer.
type Session struct {
	id     uuid.UUID
	ws     *websocketServer
	logger *slog.Logger
	server *Server
	frames chan struct{}
}

// ID returns the session ID.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start runs the session until ctx is done or the viewer goes away.
func (s *Session) Start(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		return s.ws.Start(ctx)
	})

	errg.Go(func() error {
		return s.mainLoop(ctx)
	})

	return errg.Wait()
}

func (s *Session) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.frames:
			frame := s.server.latestFrame()
			if err := s.ws.Send(ctx, wrapperspb.Bytes(frame)); err != nil {
				return err
			}
		}
	}
}

func (s *Session) queueFrame() {
	select {
	case s.frames <- struct{}{}:
	default:
	}
}
