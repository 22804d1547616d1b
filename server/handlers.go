package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/observation"
	"github.com/hupe1980/obsmesh/orchestrator"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

type kindInfo struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type actionRequest struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind" binding:"required"`
	Args      map[string]any `json:"args"`
	TimeoutMS int64          `json:"timeout_ms"`
}

type chatRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"session_id": s.mesh.Loop().SessionID(),
		"active":     s.mesh.Loop().Active(),
	})
}

func (s *Server) listKinds(c *gin.Context) {
	reg := s.mesh.Registry()
	kinds := reg.Kinds()
	out := make([]kindInfo, 0, len(kinds))
	for _, k := range kinds {
		desc, err := reg.Describe(k)
		if err != nil {
			continue
		}
		out = append(out, kindInfo{Kind: string(k), Description: desc})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) kindSchema(c *gin.Context) {
	schema, err := s.mesh.Registry().Schema(observation.Kind(c.Param("kind")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (s *Server) listSessions(c *gin.Context) {
	ids, err := s.mesh.Loop().History().Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

// sessionObservations streams a session's log as JSON lines, optionally
// filtered by ?kind= or ?cause=.
func (s *Server) sessionObservations(c *gin.Context) {
	ctx := c.Request.Context()
	store := s.mesh.Loop().History()
	id := c.Param("id")

	var (
		obs []observation.Observation
		err error
	)
	switch {
	case c.Query("cause") != "":
		obs, err = store.ByCause(ctx, id, c.Query("cause"))
	case c.Query("kind") != "":
		obs, err = store.ByKind(ctx, id, observation.Kind(c.Query("kind")))
	default:
		obs, err = store.List(ctx, id)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	if err := history.Export(c.Writer, s.mesh.Codec(), obs); err != nil {
		s.logger.Warn("server.export_failed", "session_id", id, "error", err)
	}
}

// ingestObservation decodes a wire observation and delivers it to the loop.
func (s *Server) ingestObservation(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.mesh.Codec().Deserialize(data)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := s.mesh.Loop().Deliver(c.Request.Context(), o); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":     o.ID(),
		"kind":   string(o.Kind()),
		"cause":  o.Cause(),
		"opaque": o.IsOpaque(),
	})
}

// runAction executes one action and answers with its wire observation.
func (s *Server) runAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.mesh.Execute(c.Request.Context(), executor.Action{
		ID:      req.ID,
		Kind:    observation.Kind(req.Kind),
		Args:    req.Args,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if out.Err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": out.Err.Error(), "action_id": out.ActionID})
		return
	}
	wire, err := s.mesh.Codec().Serialize(out.Observation)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", wire)
}

func (s *Server) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Sender == "" {
		req.Sender = "user"
	}
	if err := s.mesh.Chat().TryPost(req.Sender, req.Message); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"pending": s.mesh.Chat().Pending()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, observation.ErrMalformedPayload),
		errors.Is(err, executor.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, observation.ErrUnknownKind),
		errors.Is(err, orchestrator.ErrNoExecutor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrDuplicateAction):
		return http.StatusConflict
	case errors.Is(err, executor.ErrInboxFull):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrLoopClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
