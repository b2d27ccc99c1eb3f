package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
	"github.com/kbukum/iceflow/sse"
	"github.com/kbukum/iceflow/supervisor"
)

// PipelineInfo describes one live pipeline. Active and Position are only
// set by GET /pipelines/:id, and only when the worker answered.
type PipelineInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name,omitempty"`
	Pid       int       `json:"pid"`
	Ended     bool      `json:"ended"`
	CreatedAt time.Time `json:"created_at"`
	Active    *bool     `json:"active,omitempty"`
	Position  *float64  `json:"position_s,omitempty"`
}

func describe(p *supervisor.Pipeline) PipelineInfo {
	return PipelineInfo{
		ID:        p.ID(),
		Name:      p.Name(),
		Pid:       p.Pid(),
		Ended:     p.Ended(),
		CreatedAt: p.CreatedAt(),
	}
}

// ElementInfo answers GET /elements/:type.
type ElementInfo struct {
	Type   string `json:"type"`
	Exists bool   `json:"exists"`
}

func (s *Server) health(c *gin.Context) {
	sh := observability.Check(c.Request.Context(), s.service, s.version, s.rt)
	status := http.StatusOK
	if sh.Status == observability.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, sh)
}

func (s *Server) listPipelines(c *gin.Context) {
	live := s.rt.Live()
	out := make([]PipelineInfo, 0, len(live))
	for _, p := range live {
		out = append(out, describe(p))
	}
	respondOK(c, out)
}

func (s *Server) lookup(c *gin.Context) (*supervisor.Pipeline, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, errors.InvalidInput("id", "not a pipeline id").WithCause(err))
		return nil, false
	}
	p, ok := s.rt.Lookup(id)
	if !ok {
		respondError(c, errors.NotFound("pipeline", raw))
		return nil, false
	}
	return p, true
}

func (s *Server) getPipeline(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	info := describe(p)
	if !info.Ended {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ProbeTimeout)
		defer cancel()
		if active, err := p.IsActive(ctx); err == nil {
			info.Active = &active
		}
		if pos, err := p.Position(ctx); err == nil {
			info.Position = &pos
		}
		info.Ended = p.Ended()
	}
	respondOK(c, info)
}

func (s *Server) stopPipeline(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	p.Stop(c.Request.Context())
	s.log.Info("pipeline stopped over http", logger.Fields(logger.FieldPipelineID, p.ID().String()))
	c.Status(http.StatusNoContent)
}

func (s *Server) elementExists(c *gin.Context) {
	typ := c.Param("type")
	ok, err := s.rt.DoesElementExist(c.Request.Context(), typ)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ElementInfo{Type: typ, Exists: ok})
}

// Client ids are "all:<uuid>" for the global stream and
// "pipeline:<id>:<uuid>" for one pipeline.
func (s *Server) events(c *gin.Context) {
	s.stream(c, "all:"+uuid.NewString())
}

func (s *Server) pipelineEvents(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	s.stream(c, "pipeline:"+p.ID().String()+":"+uuid.NewString())
}

func (s *Server) stream(c *gin.Context, id string) {
	hello, err := sonic.ConfigStd.Marshal(map[string]string{"client_id": id})
	if err != nil {
		respondError(c, err)
		return
	}
	sse.Serve(s.hub, c.Writer, c.Request, id, hello, s.cfg.KeepAlive)
}

// forward is the Runtime subscription feeding the SSE hub.
func (s *Server) forward(ev supervisor.Event) {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		s.log.Warn("event not encodable", logger.Fields(logger.FieldMethod, string(ev.Method), logger.FieldError, err.Error()))
		return
	}
	f := sse.Frame{Event: string(ev.Method), Data: data}
	s.hub.Broadcast("all:*", f)
	s.hub.Broadcast("pipeline:"+ev.Pipeline.String()+":*", f)
}
