// Package api exposes the book and the feed session over HTTP: read
// endpoints for the rendered depth view and the session status, and
// control endpoints mirroring the session operations.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bookflow/config"
	"bookflow/feed"
	"bookflow/logger"
	"bookflow/models"
)

// BookSession is the slice of the feed session the API drives.
type BookSession interface {
	Connect()
	Disconnect()
	Subscribe(name string) error
	ForceError()
	State() (feed.ConnectionState, bool)
	Instrument() (config.InstrumentConfig, bool)
	DepthView(grouping float64, maxRows int) (models.DepthView, error)
}

// Server hosts the Gin-powered control API.
type Server struct {
	cfg        config.APIConfig
	engine     config.EngineConfig
	session    BookSession
	httpServer *http.Server
	log        *logger.Log
}

// NewServer constructs the API server when the API feature is enabled.
// When it is disabled the returned server is nil.
func NewServer(cfg config.APIConfig, engine config.EngineConfig, session BookSession) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:     cfg,
		engine:  engine,
		session: session,
		log:     logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("api").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the API server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	router.GET("/api/book", s.handleBook)
	router.GET("/api/status", s.handleStatus)
	router.POST("/api/connect", s.handleConnect)
	router.POST("/api/disconnect", s.handleDisconnect)
	router.POST("/api/subscribe/:instrument", s.handleSubscribe)
	router.POST("/api/force-error", s.handleForceError)

	return router
}

// handleBook renders the current book. grouping defaults to the
// subscribed instrument's smallest interval, depth to the configured
// row bound.
func (s *Server) handleBook(c *gin.Context) {
	inst, ok := s.session.Instrument()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no instrument subscribed"})
		return
	}

	grouping := 0.0
	if len(inst.Groupings) > 0 {
		grouping = inst.Groupings[0]
	}
	if raw := c.Query("grouping"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "grouping must be a positive number"})
			return
		}
		grouping = parsed
	}

	depth := s.engine.MaxLevelCount
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a positive integer"})
			return
		}
		depth = parsed
	}

	view, err := s.session.DepthView(grouping, depth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleStatus(c *gin.Context) {
	state, errFlag := s.session.State()
	payload := gin.H{
		"state":      state.String(),
		"error_flag": errFlag,
	}
	if inst, ok := s.session.Instrument(); ok {
		payload["instrument"] = inst.Name
		payload["product_id"] = inst.ProductID
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleConnect(c *gin.Context) {
	s.session.Connect()
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting"})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.session.Disconnect()
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	name := c.Param("instrument")
	if err := s.session.Subscribe(name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, feed.ErrNotConnected) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "subscribed", "instrument": name})
}

func (s *Server) handleForceError(c *gin.Context) {
	s.session.ForceError()
	c.JSON(http.StatusAccepted, gin.H{"status": "armed"})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			return net.JoinHostPort("0.0.0.0", port)
		}
	}
	return addr
}
