package bridge

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sketchlab/inobridge/internal/framing"
)

// SessionState tracks a session through its lifecycle. TERMINATED is
// terminal; a session is never reused.
type SessionState int32

// Session lifecycle states.
const (
	StateIdle SessionState = iota
	StateSpawning
	StateRunning
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Application close codes sent when a session ends abnormally. All are
// outside the 1000 range so clients can distinguish bridge-initiated
// teardown from a clean close.
const (
	CloseCommandMissing     = 4000
	CloseCommandUnparseable = 4001
	CloseSpawnFailure       = 4002
	CloseProcessExited      = 4003
	CloseStdinWriteFailure  = 4004
)

// closeNone suppresses the close frame on paths where the peer is already
// gone.
const closeNone = 0

// socketConn is the slice of *websocket.Conn the session needs; tests
// substitute an in-memory implementation.
type socketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// SessionConfig carries the per-connection launch settings.
type SessionConfig struct {
	// Command is the full language-server launch line. Empty means no
	// server is configured for this bridge.
	Command string

	// WorkDir is the child's working directory. Empty inherits the
	// service's.
	WorkDir string
}

// Session supervises one WebSocket connection and the language-server
// process spawned for it. The socket and the process live and die together:
// either side going away tears down the other.
type Session struct {
	id   string
	cfg  SessionConfig
	conn socketConn
	log  *logrus.Entry

	state atomic.Int32

	cmd   *exec.Cmd
	stdin io.WriteCloser

	wsWriteMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an accepted connection. Run drives it.
func NewSession(id string, conn socketConn, cfg SessionConfig, log *logrus.Logger) *Session {
	return &Session{
		id:   id,
		cfg:  cfg,
		conn: conn,
		log:  log.WithFields(logrus.Fields{"component": "bridge", "session": id}),
		done: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Done is closed when the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run spawns the language server and pumps traffic until either side dies.
// It blocks for the life of the session and owns the WebSocket read loop.
func (s *Session) Run() {
	s.state.Store(int32(StateSpawning))

	if s.cfg.Command == "" {
		s.log.Error("no language server command configured")
		s.terminate(CloseCommandMissing, "language server command not configured")
		return
	}

	argv, err := ParseCommandLine(s.cfg.Command)
	if err != nil || len(argv) == 0 {
		s.log.WithError(err).WithField("command", s.cfg.Command).Error("unusable language server command")
		s.terminate(CloseCommandUnparseable, "language server command unparseable")
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.cfg.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.terminate(CloseSpawnFailure, fmt.Sprintf("stdin pipe: %v", err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.terminate(CloseSpawnFailure, fmt.Sprintf("stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.terminate(CloseSpawnFailure, fmt.Sprintf("stderr pipe: %v", err))
		return
	}

	if err := cmd.Start(); err != nil {
		s.log.WithError(err).WithField("command", argv[0]).Error("language server failed to start")
		s.terminate(CloseSpawnFailure, fmt.Sprintf("spawn failed: %v", err))
		return
	}

	s.cmd = cmd
	s.stdin = stdin
	s.state.Store(int32(StateRunning))
	s.log.WithFields(logrus.Fields{
		"command": argv[0],
		"pid":     cmd.Process.Pid,
		"workdir": s.cfg.WorkDir,
	}).Info("language server started")

	go s.stdoutPump(stdout)
	go s.stderrPump(stderr)
	go s.waitProcess()

	s.readPump()
}

// Shutdown ends the session from the outside, e.g. on service stop.
func (s *Session) Shutdown() {
	s.terminate(websocket.CloseGoingAway, "bridge shutting down")
}

// readPump forwards WebSocket messages to the child's stdin, re-framed. It
// runs on the Run goroutine.
func (s *Session) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Peer gone; no close frame to send.
			s.log.WithError(err).Debug("websocket closed")
			s.terminate(closeNone, "")
			return
		}

		payload := s.rewriteInitialize(data)
		if _, err := s.stdin.Write(framing.Encode(payload)); err != nil {
			s.log.WithError(err).Error("write to language server stdin failed")
			s.terminate(CloseStdinWriteFailure, "language server stdin write failed")
			return
		}
	}
}

// rewriteInitialize patches params.processId of a passing-through initialize
// request to the child's real PID, so servers that watch their parent
// process observe the bridge's child rather than a browser PID that does not
// exist on this machine. Anything unpatchable passes through verbatim.
func (s *Session) rewriteInitialize(data []byte) []byte {
	if gjson.GetBytes(data, "method").String() != "initialize" {
		return data
	}
	if !gjson.GetBytes(data, "id").Exists() {
		return data
	}

	patched, err := sjson.SetBytes(data, "params.processId", s.cmd.Process.Pid)
	if err != nil {
		s.log.WithError(err).Debug("processId rewrite failed, forwarding as-is")
		return data
	}
	return patched
}

// stdoutPump de-frames the child's stdout and forwards each payload as one
// WebSocket text message.
func (s *Session) stdoutPump(stdout io.Reader) {
	decoder := framing.NewDecoder()
	buf := make([]byte, 4096)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, payload := range decoder.Feed(buf[:n]) {
				s.writeWS(payload)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).Debug("stdout pump stopped")
			}
			if dropped := decoder.Dropped(); dropped > 0 {
				s.log.WithField("dropped", dropped).Warn("discarded malformed header blocks from language server")
			}
			return
		}
	}
}

// writeWS sends one payload to the browser. Send failures are logged, not
// fatal: the read pump notices the dead socket and drives teardown.
func (s *Session) writeWS(payload []byte) {
	s.wsWriteMu.Lock()
	defer s.wsWriteMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
	}
}

// stderrPump logs the child's stderr line by line.
func (s *Session) stderrPump(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.log.WithField("stream", "stderr").Debug(scanner.Text())
	}
}

// waitProcess reaps the child and tears the session down when it exits.
func (s *Session) waitProcess() {
	err := s.cmd.Wait()

	reason := "language server exited"
	if err != nil {
		reason = fmt.Sprintf("language server exited: %v", err)
	}
	if s.State() != StateTerminated {
		s.log.WithError(err).Warn("language server process exited")
	}
	s.terminate(CloseProcessExited, reason)
}

// terminate is the single teardown path: close the socket (with a close
// frame when the peer may still be listening) and kill the child. Safe to
// call from any goroutine, any number of times.
func (s *Session) terminate(code int, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateTerminated))

		if code != closeNone {
			frame := websocket.FormatCloseMessage(code, truncateReason(reason))
			deadline := time.Now().Add(time.Second)
			if err := s.conn.WriteControl(websocket.CloseMessage, frame, deadline); err != nil {
				s.log.WithError(err).Debug("close frame not delivered")
			}
		}
		s.conn.Close()

		if s.cmd != nil && s.cmd.Process != nil {
			// No graceful shutdown request, no drain: the browser
			// reconnects and gets a fresh process.
			if err := s.cmd.Process.Kill(); err != nil {
				s.log.WithError(err).Debug("kill language server")
			}
		}

		s.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Info("session terminated")
		close(s.done)
	})
}

// truncateReason bounds a close reason to fit a control frame: 125 payload
// bytes minus the 2-byte status code.
func truncateReason(reason string) string {
	const max = 123
	if len(reason) <= max {
		return reason
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
