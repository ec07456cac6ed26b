// Package server exposes the inference service over HTTP with gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ajitpratap0/gridcast/internal/service"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// Predictor serves predictions.
type Predictor interface {
	Predict(ctx context.Context, req service.PredictionRequest) (*service.PredictionResult, error)
	DefaultVersion() string
}

// ReportGenerator renders the monitoring page.
type ReportGenerator interface {
	Generate(ctx context.Context) []byte
}

// Server is the HTTP front of the inference service.
type Server struct {
	cfg       config.ServingConfig
	predictor Predictor
	monitor   ReportGenerator
	engine    *gin.Engine
	logger    *zap.Logger
}

// New builds the router. monitor may be nil, in which case the report
// endpoint answers 404.
func New(cfg config.ServingConfig, predictor Predictor, monitor ReportGenerator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	useJSONFieldNames()
	s := &Server{
		cfg:       cfg,
		predictor: predictor,
		monitor:   monitor,
		engine:    gin.New(),
		logger:    log.With(zap.String("component", "http_server")),
	}
	s.engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.POST("/predict", s.handlePredict)
	if s.monitor != nil {
		v1.GET("/monitoring/report", s.handleReport)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on cfg.Addr until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("inference server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "inference server failed").WithDetail("addr", s.cfg.Addr)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down inference server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "inference server shutdown")
	}
	return nil
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.FromContext(c.Request.Context(), s.logger).Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
