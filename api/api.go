// Package api exposes the HTTP front door: submit an expansion job,
// inspect tracked jobs, and read pool health. Responses share one
// envelope: {code, data, message}, where code 0 means success and any
// other value is a stable error code.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/id"
	"github.com/veldt/outpaint/imageio"
	"github.com/veldt/outpaint/job"
	"github.com/veldt/outpaint/pool"
	"github.com/veldt/outpaint/track"
)

// Runner executes one job to completion and returns its result URLs.
// Satisfied by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, j *job.Job) ([]string, error)
}

// Server handles the HTTP API.
type Server struct {
	runner  Runner
	tracker *track.Tracker
	pool    *pool.Pool
	store   *imageio.Store
	logger  *slog.Logger
	router  *gin.Engine
}

// New builds a Server and its routes.
func New(runner Runner, tracker *track.Tracker, p *pool.Pool, store *imageio.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		runner:  runner,
		tracker: tracker,
		pool:    p,
		store:   store,
		logger:  logger,
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery())

	g := s.router.Group("/api")
	g.GET("/health", s.health)
	g.POST("/path/expand", s.expandPath)
	g.POST("/base64/expand", s.expandBase64)
	g.GET("/jobs/:id", s.getJob)
	g.GET("/workers", s.listWorkers)

	return s
}

// Handler returns the underlying http.Handler for serving.
func (s *Server) Handler() http.Handler { return s.router }

type envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
}

func respOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: outpaint.CodeOK, Data: data, Message: "ok"})
}

func respErr(c *gin.Context, status int, err error) {
	c.JSON(status, envelope{Code: outpaint.CodeOf(err), Message: outpaint.MessageOf(err)})
}

func (s *Server) health(c *gin.Context) {
	respOK(c, gin.H{"time": time.Now().UTC().Format(time.RFC3339)})
}

type pathRequest struct {
	ImagePath string `json:"image_path" binding:"required"`
}

func (s *Server) expandPath(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respErr(c, http.StatusBadRequest, outpaint.Errorf(outpaint.CodeBadInput, "invalid request body: %v", err))
		return
	}
	if err := imageio.ValidatePath(req.ImagePath); err != nil {
		respErr(c, http.StatusBadRequest, err)
		return
	}
	s.runJob(c, req.ImagePath)
}

type base64Request struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
}

func (s *Server) expandBase64(c *gin.Context) {
	var req base64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respErr(c, http.StatusBadRequest, outpaint.Errorf(outpaint.CodeBadInput, "invalid request body: %v", err))
		return
	}
	path, err := s.store.SaveBase64(req.ImageBase64)
	if err != nil {
		respErr(c, http.StatusBadRequest, err)
		return
	}
	s.runJob(c, path)
}

// runJob drives one job through the engine and downloads its results.
func (s *Server) runJob(c *gin.Context, sourceRef string) {
	j := job.New(sourceRef)
	s.logger.Info("job accepted",
		slog.String("job_id", j.ID.String()),
		slog.String("source", sourceRef),
	)

	urls, err := s.runner.Run(c.Request.Context(), j)
	if err != nil {
		respErr(c, statusFor(err), err)
		return
	}

	paths, err := s.store.Download(c.Request.Context(), j.ID.String(), urls)
	if err != nil {
		respErr(c, http.StatusBadGateway, err)
		return
	}

	respOK(c, gin.H{
		"job_id":        j.ID.String(),
		"output_images": paths,
	})
}

// statusFor maps engine failures onto HTTP statuses. Saturation and
// timeouts are service-side conditions; coded input errors are the
// caller's fault; everything else is internal.
func statusFor(err error) int {
	switch outpaint.CodeOf(err) {
	case outpaint.CodeBadInput:
		return http.StatusBadRequest
	case outpaint.CodePoolExhausted, outpaint.CodeAcquireTimeout:
		return http.StatusServiceUnavailable
	case outpaint.CodeInsufficientCredit, outpaint.CodeAccountSuspended:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		respErr(c, http.StatusBadRequest, outpaint.Errorf(outpaint.CodeBadInput, "invalid job id: %v", err))
		return
	}
	j, err := s.tracker.Get(jobID)
	if err != nil {
		respErr(c, http.StatusNotFound, err)
		return
	}
	respOK(c, j)
}

func (s *Server) listWorkers(c *gin.Context) {
	respOK(c, gin.H{"workers": s.pool.Snapshot()})
}
