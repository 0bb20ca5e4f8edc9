package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/saltnpepper97/verdant/internal/bloom"
)

// ShutdownManager is the slice of internal/manager.Manager the control
// endpoint needs to drive the shutdown handshake of spec §4.F step 3.
type ShutdownManager interface {
	Shutdown(deadline time.Duration)
}

// Server is the local control endpoint of spec §4.F, listening on
// SocketPath and dispatching framed commands per §6.2.
type Server struct {
	SocketPath         string
	UpstreamSocketPath string
	Handler            Handler
	Manager            ShutdownManager
	ShutdownDeadline   time.Duration

	// OnExit is invoked once the shutdown handshake with the upstream
	// init socket completes, so the daemon's main loop can set its own
	// process-level shutdown_flag and exit (spec §4.F step 3c).
	OnExit func()

	log      *bloom.Logger
	listener net.Listener
}

func NewServer(socketPath, upstreamSocketPath string, h Handler, m ShutdownManager, log *bloom.Logger) *Server {
	return &Server{
		SocketPath:         socketPath,
		UpstreamSocketPath: upstreamSocketPath,
		Handler:            h,
		Manager:            m,
		ShutdownDeadline:   10 * time.Second,
		log:                log,
	}
}

// Listen binds the control socket, removing any stale socket file left
// behind by a previous run and creating the containing directory if
// absent, per spec §4.F "Stale socket files must be removed before
// bind".
func (s *Server) Listen() error {
	dir := filepath.Dir(s.SocketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return bloom.Wrap(bloom.KindIo, err, "creating socket directory "+dir)
	}
	if _, err := os.Stat(s.SocketPath); err == nil {
		if err := os.Remove(s.SocketPath); err != nil {
			return bloom.Wrap(bloom.KindIo, err, "removing stale socket "+s.SocketPath)
		}
	}
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return bloom.Wrap(bloom.KindIo, err, "binding control socket "+s.SocketPath)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed (by Close).
// Each accepted connection is handled on its own goroutine so a
// slow/hung client can't stall new connections, per spec §5.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return bloom.Wrap(bloom.KindIo, err, "accepting control connection")
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. Safe to call once.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.New().String()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.logf(bloom.Warn, connID, "invalid IPC request: %v", err)
		writeResponse(conn, Response{Success: false, Message: "Invalid IPC request"})
		return
	}

	if req.Target != TargetVerdantd {
		writeResponse(conn, Response{Success: false, Message: "Incorrect target"})
		return
	}

	switch req.Command.Simple {
	case CmdShutdown, CmdReboot:
		s.handleShutdownLike(conn, connID, req.Command.Simple)
		return
	}

	resp := s.dispatch(req.Command)
	writeResponse(conn, resp)
}

// handleShutdownLike implements spec §4.F step 3: respond success
// immediately, close the write side, then in a detached goroutine run
// the manager shutdown + upstream-init forward + process-exit sequence.
func (s *Server) handleShutdownLike(conn net.Conn, connID, cmdName string) {
	writeResponse(conn, Response{Success: true, Message: cmdName + " initiated"})
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	go func() {
		s.logf(bloom.Info, connID, "%s requested, stopping services", cmdName)
		if s.Manager != nil {
			s.Manager.Shutdown(s.ShutdownDeadline)
		}

		if s.UpstreamSocketPath != "" {
			client := NewClient(s.UpstreamSocketPath)
			cmd := Command{Simple: cmdName}
			if _, err := client.Send(Request{Target: TargetInit, Command: cmd}, 2*time.Second); err != nil {
				s.logf(bloom.Warn, connID, "forwarding %s to upstream init failed: %v", cmdName, err)
			} else {
				s.logf(bloom.Ok, connID, "%s forwarded to upstream init", cmdName)
			}
		}

		if s.OnExit != nil {
			s.OnExit()
		}
	}()
}

func (s *Server) dispatch(cmd Command) Response {
	switch {
	case cmd.Simple == CmdGetStatus:
		return s.statusResponse()
	case cmd.GetServiceStatus != "":
		return s.serviceStatusResponse(cmd.GetServiceStatus)
	case cmd.StartService != "":
		if s.Handler == nil {
			return Response{Success: false, Message: "service handler unavailable"}
		}
		if err := s.Handler.Start(cmd.StartService); err != nil {
			return Response{Success: false, Message: err.Error()}
		}
		return Response{Success: true, Message: "start requested"}
	case cmd.StopService != "":
		if s.Handler == nil {
			return Response{Success: false, Message: "service handler unavailable"}
		}
		if err := s.Handler.Stop(cmd.StopService); err != nil {
			return Response{Success: false, Message: err.Error()}
		}
		return Response{Success: true, Message: "stop requested"}
	default:
		return Response{Success: false, Message: "Unsupported command"}
	}
}

func (s *Server) statusResponse() Response {
	if s.Handler == nil {
		return Response{Success: false, Message: "service handler unavailable"}
	}
	snaps := s.Handler.Snapshot()
	out := make([]ServiceStatus, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, toServiceStatus(sn))
	}
	data, _ := json.Marshal(out)
	return Response{Success: true, Message: "ok", Data: data}
}

func (s *Server) serviceStatusResponse(name string) Response {
	if s.Handler == nil {
		return Response{Success: false, Message: "service handler unavailable"}
	}
	for _, sn := range s.Handler.Snapshot() {
		if sn.Name == name {
			data, _ := json.Marshal(toServiceStatus(sn))
			return Response{Success: true, Message: "ok", Data: data}
		}
	}
	return Response{Success: false, Message: "no such service: " + name}
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func (s *Server) logf(level bloom.LogLevel, connID, format string, args ...interface{}) {
	if s.log == nil {
		return
	}
	s.log.WithField("conn", connID).Logf(level, format, args...)
}
