// Package interactive is the editor host: it runs a graph and exposes it
// over a REST API and a websocket stream of value changes so an editor can
// inspect, drive and replace the graph while it runs.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
	"github.com/specialistvlad/tickgraph/internal/session"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/sync/errgroup"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SetValueRequest drives a logic.value node.
type SetValueRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// Server serves one session.
type Server struct {
	sess     *session.Session
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a server. The hub must be the session's OnTick observer.
func New(sess *session.Session, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		sess:   sess,
		hub:    hub,
		logger: logger.With("component", "interactive"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// The editor is served from another origin during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.GET("/graph", s.getGraph)
	api.PUT("/graph", s.putGraph)
	api.GET("/nodes", s.listNodes)
	api.GET("/nodes/:id/outputs", s.getOutputs)
	api.POST("/nodes/:id/value", s.setValue)
	api.GET("/buffer", s.getBuffer)
	r.GET("/ws", s.stream)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request.", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) evaluator(c *gin.Context) (*scheduler.Evaluator, bool) {
	eval := s.sess.Evaluator()
	if eval == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: session.ErrNotStarted.Error()})
		return nil, false
	}
	return eval, true
}

func (s *Server) getGraph(c *gin.Context) {
	eval, ok := s.evaluator(c)
	if !ok {
		return
	}
	doc, err := eval.Document()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) putGraph(c *gin.Context) {
	var doc graph.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := doc.Normalize(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.sess.Reload(c.Request.Context(), &doc); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, graph.ErrCyclicGraph):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, session.ErrNotStarted):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("Graph replaced by editor.", "nodes", len(doc.Nodes), "connections", len(doc.Connections))
	s.getGraph(c)
}

func (s *Server) listNodes(c *gin.Context) {
	eval, ok := s.evaluator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eval.Status())
}

func (s *Server) getOutputs(c *gin.Context) {
	eval, ok := s.evaluator(c)
	if !ok {
		return
	}
	out, found := eval.Outputs(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "node not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setValue(c *gin.Context) {
	eval, ok := s.evaluator(c)
	if !ok {
		return
	}
	id := c.Param("id")
	var req SetValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	var v any
	if err := json.Unmarshal(req.Value, &v); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	n, found := eval.Node(id)
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "node not found"})
		return
	}
	// Values are coerced to the node's declared output type.
	if ports, ok := node.SocketsOf(n); ok {
		if out, ok := ports.Output("out"); ok && !out.Type.Equals(cty.DynamicPseudoType) {
			conv, err := value.Conform(v, out.Type)
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
				return
			}
			v = conv
		}
	}

	if err := s.sess.SetValue(id, v); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrNotSettable):
			status = http.StatusConflict
		case errors.Is(err, scheduler.ErrNodeNotFound):
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getBuffer(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Channel().Snapshot())
}

func (s *Server) stream(c *gin.Context) {
	eval, ok := s.evaluator(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade stream connection.", "error", err)
		return
	}
	s.hub.serve(conn, Message{Type: "snapshot", Nodes: eval.Status()})
}

// Run serves addr and drives the session until ctx is done. The session
// must already be started.
func (s *Server) Run(ctx context.Context, addr string) error {
	logger := ctxlog.FromContext(ctx)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sess.Run(gctx) })
	g.Go(func() error {
		logger.Info("🚀 Editor host listening.", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	logger.Info("🏁 Editor host stopped.")
	return err
}
