package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SessionSettings is the slice of configuration a new connection needs. The
// server reads it fresh per connection, so a config reload applies to the
// next session without a restart.
type SessionSettings struct {
	Command      string
	ProjectsRoot string
}

// Server is the HTTP surface of the bridge: the WebSocket upgrade endpoint
// plus health and stats.
type Server struct {
	settings func() SessionSettings
	log      *logrus.Logger
	upgrader websocket.Upgrader
	router   *gin.Engine

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   atomic.Int64

	httpSrv *http.Server
}

// NewServer builds the router. Start serves it.
func NewServer(listen string, settings func() SessionSettings, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		settings: settings,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge fronts local editors; origin policy is the
			// deployment's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/lsp", s.handleLSP)
	router.GET("/healthz", s.handleHealth)
	router.GET("/stats", s.handleStats)
	s.router = router

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.WithField("listen", s.httpSrv.Addr).Info("bridge listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and tears down every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		live = append(live, session)
	}
	s.mu.Unlock()

	for _, session := range live {
		session.Shutdown()
	}

	return s.httpSrv.Shutdown(ctx)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleLSP(c *gin.Context) {
	settings := s.settings()

	workdir, err := resolveProjectDir(settings.ProjectsRoot, c.Query("project"))
	if err != nil {
		s.log.WithError(err).WithField("project", c.Query("project")).Warn("rejecting connection")
		status := http.StatusBadRequest
		if err == ErrProjectOutsideRoot {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := strconv.FormatInt(s.nextID.Add(1), 10)
	session := NewSession(id, conn, SessionConfig{
		Command: settings.Command,
		WorkDir: workdir,
	}, s.log)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	session.Run()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.Lock()
	states := make([]gin.H, 0, len(s.sessions))
	for _, session := range s.sessions {
		states = append(states, gin.H{
			"id":    session.ID(),
			"state": session.State().String(),
		})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"sessions": len(states),
		"detail":   states,
	})
}

// resolveProjectDir maps the project query parameter onto a directory under
// the configured projects root. An empty project means the child inherits
// the service working directory; anything that climbs out of the root is
// rejected before the upgrade.
func resolveProjectDir(root, project string) (string, error) {
	if project == "" {
		return "", nil
	}
	if root == "" {
		return "", ErrNoProjectsRoot
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	dir := filepath.Clean(filepath.Join(rootAbs, filepath.FromSlash(project)))
	if dir != rootAbs && !strings.HasPrefix(dir, rootAbs+string(filepath.Separator)) {
		return "", ErrProjectOutsideRoot
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", project)
	}
	return dir, nil
}
