package lampd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
)

const closeFrameTimeout = 2 * time.Second

type closeFrame struct {
	Code   ws.StatusCode
	Reason string
}

func (f closeFrame) encode() []byte {
	return ws.NewCloseFrameBody(f.Code, f.Reason)
}

type websocketServer struct {
	// Sending is a channel of messages to send to the client.
	Sending chan proto.Message

	wsconn net.Conn
	logger *slog.Logger
}

func newWebsocketServer(wsconn net.Conn, logger *slog.Logger) *websocketServer {
	return &websocketServer{
		Sending: make(chan proto.Message),

		wsconn: wsconn,
		logger: logger,
	}
}

// Send sends a message to the client.
func (s *websocketServer) Send(ctx context.Context, msg proto.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.Sending <- msg:
		return nil
	}
}

func (s *websocketServer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errg, ctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		<-ctx.Done()

		cause := context.Cause(ctx)

		s.logger.DebugContext(ctx,
			"closing websocket",
			"cause", cause.Error())

		// Viewers that were kicked get told why.
		if errors.Is(cause, ErrKicked) {
			s.writeCloseFrame(ctx, closeFrame{
				Code:   ws.StatusGoingAway,
				Reason: cause.Error(),
			})
		}

		if closeErr := s.wsconn.Close(); closeErr != nil {
			s.logger.WarnContext(ctx,
				"failed to close websocket",
				"error", closeErr.Error())

			return fmt.Errorf("failed to close websocket: %w", closeErr)
		}

		return nil
	})

	errg.Go(func() error {
		defer cancel()

		var buf bytes.Buffer
		buf.Grow(64)

		// Viewers have nothing to say; reading only keeps control frames
		// flowing and tells us when they leave.
		for {
			_, err := wsReadData(&buf, s.wsconn, ws.StateServerSide, ws.OpBinary|ws.OpText)
			if err != nil {
				var closedErr wsutil.ClosedError
				if errors.As(err, &closedErr) {
					s.logger.DebugContext(ctx,
						"received close frame from client")

					return nil
				}

				if ctx.Err() != nil {
					return ctx.Err()
				}

				s.logger.DebugContext(ctx,
					"failed to read from websocket",
					"error", err.Error())

				return fmt.Errorf("failed to read from websocket: %w", err)
			}
		}
	})

	errg.Go(func() error {
		var marshaler proto.MarshalOptions

		var err error
		buf := make([]byte, 0, 1024)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case msg := <-s.Sending:
				buf = buf[:0]

				buf, err = marshaler.MarshalAppend(buf, msg)
				if err != nil {
					return fmt.Errorf("failed to marshal message: %w", err)
				}

				if err := wsutil.WriteServerBinary(s.wsconn, buf); err != nil {
					return fmt.Errorf("failed to write to websocket: %w", err)
				}
			}
		}
	})

	return errg.Wait()
}

func (s *websocketServer) writeCloseFrame(ctx context.Context, f closeFrame) {
	s.logger.DebugContext(ctx,
		"sending close frame to client",
		"code", f.Code,
		"reason", f.Reason)

	s.wsconn.SetWriteDeadline(time.Now().Add(closeFrameTimeout))

	if err := ws.WriteFrame(s.wsconn, ws.NewCloseFrame(f.encode())); err != nil {
		s.logger.WarnContext(ctx,
			"failed to write close frame",
			"error", err.Error())
	} else {
		s.logger.DebugContext(ctx,
			"close frame sent")
	}
}

func wsReadData(dst *bytes.Buffer, src io.ReadWriter, s ws.State, want ws.OpCode) (ws.OpCode, error) {
	controlHandler := wsutil.ControlFrameHandler(src, s)
	rd := wsutil.Reader{
		Source:          src,
		State:           s,
		SkipHeaderCheck: false,
		OnIntermediate:  controlHandler,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := controlHandler(hdr, &rd); err != nil {
				return 0, err
			}
			continue
		}
		if hdr.OpCode&want == 0 {
			if err := rd.Discard(); err != nil {
				return 0, err
			}
			continue
		}

		dst.Reset()
		_, err = io.Copy(dst, &rd)
		return hdr.OpCode, err
	}
}
