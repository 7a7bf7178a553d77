package ingress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ir"
)

// DefaultSocketPath is where the daemon listens for events.
const DefaultSocketPath = "/var/run/posture.sock"

const (
	// MaxMessageSize bounds a single event line, excluding its newline.
	MaxMessageSize = 64 * 1024

	// readTimeout is how long a connection may sit idle between events.
	readTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second

	socketMode os.FileMode = 0o660
)

// Handler evaluates decoded events and records rejected input.
// *engine.Engine satisfies it.
type Handler interface {
	Evaluate(ctx context.Context, ev ir.Event) engine.Outcome
	ReportMalformed(raw []byte, cause error) engine.Outcome
}

// Ack is the reply written for every received line.
type Ack struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
	Rule   string `json:"rule,omitempty"`
	Zone   string `json:"zone,omitempty"`
	Locked bool   `json:"locked"`
	Error  string `json:"error,omitempty"`
}

func ackFor(out engine.Outcome) Ack {
	ack := Ack{
		OK:     out.Status != engine.StatusMalformed,
		Status: string(out.Status),
		Rule:   out.RuleID,
		Locked: out.Locked,
	}
	if out.To.Valid() {
		ack.Zone = out.To.String()
	}
	if out.Err != nil {
		ack.Error = out.Err.Error()
	}
	return ack
}

// Server accepts newline-delimited JSON events on a unix socket.
//
// A connection may carry any number of events; each line gets one Ack
// line back. A line that is too long or does not decode is reported as
// malformed and acknowledged with ok=false; an over-long line also ends
// the connection since the stream cannot be resynchronized.
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool

	activeConnections sync.WaitGroup
	ready             chan struct{}
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve listens until ctx is cancelled, then closes open connections and
// waits for their handlers. A stale socket file at the path is replaced;
// the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		return fmt.Errorf("chmod %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
		s.closeConns()
	}()

	s.logger.Info("ingress listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.track(conn)
		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("ingress stopped", "path", s.socketPath)
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxMessageSize+1)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !sc.Scan() {
			break
		}
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s.reply(conn, s.handle(ctx, line))
	}

	switch err := sc.Err(); {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		out := s.handler.ReportMalformed(nil, fmt.Errorf("message exceeds %d bytes", MaxMessageSize))
		s.reply(conn, ackFor(out))
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, net.ErrClosed):
		s.logger.Debug("ingress connection closed", "error", err)
	default:
		s.logger.Debug("ingress read failed", "error", err)
	}
}

func (s *Server) handle(ctx context.Context, line []byte) Ack {
	ev, err := Decode(line)
	if err != nil {
		return ackFor(s.handler.ReportMalformed(line, err))
	}
	return ackFor(s.handler.Evaluate(ctx, ev))
}

// reply writes one ack line. Write failures are logged at debug level;
// fire-and-forget clients close without reading.
func (s *Server) reply(conn net.Conn, ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Error("encoding ack", "error", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.logger.Debug("writing ack", "error", err)
	}
}

// track registers conn for shutdown. A connection accepted after
// shutdown began is closed at once.
func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		c.Close()
	}
}

// Send writes events to the socket at path and returns one ack per event.
func Send(ctx context.Context, path string, events ...ir.Event) ([]Ack, error) {
	lines := make([][]byte, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encoding event %q: %w", ev.Trigger, err)
		}
		lines = append(lines, data)
	}
	return SendRaw(ctx, path, lines...)
}

// SendRaw writes pre-encoded lines to the socket at path and returns one
// ack per line.
func SendRaw(ctx context.Context, path string, lines ...[]byte) ([]Ack, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	w := bufio.NewWriter(conn)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing events: %w", err)
	}

	acks := make([]Ack, 0, len(lines))
	dec := json.NewDecoder(conn)
	for range lines {
		var ack Ack
		if err := dec.Decode(&ack); err != nil {
			if errors.Is(err, io.EOF) {
				return acks, fmt.Errorf("connection closed after %d of %d acks", len(acks), len(lines))
			}
			return acks, fmt.Errorf("reading ack: %w", err)
		}
		acks = append(acks, ack)
	}
	return acks, nil
}
