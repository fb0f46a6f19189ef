// handler.go — REST API handlers。
package apiserver

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/genruntime/internal/generation"
	"github.com/multi-agent/genruntime/internal/turn"
	"github.com/multi-agent/genruntime/pkg/util"
)

// maxEventBody 单个事件帧的大小上限。
const maxEventBody = 4 << 20

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthz)

	api := s.router.Group("/api")

	api.POST("/generations", s.beginGeneration)
	api.POST("/generations/:gid/events", s.deliverEvent)

	conv := api.Group("/conversations/:cid")
	conv.GET("/snapshot", s.getSnapshot)
	conv.GET("/blocks", s.getDisplayBlocks)
	conv.GET("/stats", s.getStats)
	conv.GET("/message", s.getMessage)
	conv.GET("/finalized", s.getFinalized)
	conv.GET("/messages", s.listMessages)
	conv.POST("/approval", s.setApproval)
	conv.POST("/auth", s.setAuth)
	conv.POST("/segments/:sid", s.setSegmentExpanded)
	conv.POST("/cancel", s.cancel)

	api.GET("/events", s.sseHandler)
}

// ========================================
// 辅助: 从 query 读分页参数
// ========================================

func queryLimit(c *gin.Context, def int) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil || v < 1 {
		return def
	}
	return util.ClampInt(v, 1, maxListLimit)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": s.bus.Subscribers()})
}

// ========================================
// Generations
// ========================================

type beginRequest struct {
	GenerationID   string `json:"generationId" binding:"required"`
	ConversationID string `json:"conversationId" binding:"required"`
}

func (s *Server) beginGeneration(c *gin.Context) {
	var req beginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	t, err := s.turns.Begin(generation.Scope{GenerationID: req.GenerationID, ConversationID: req.ConversationID})
	if err != nil {
		writeError(c, err)
		return
	}
	if s.opts.Launch != nil {
		s.opts.Launch(t)
	}
	created(c, gin.H{"scope": t.Scope(), "snapshot": t.Runtime().Snapshot()})
}

// deliverEvent 投递一个原始事件帧。会话 id 取自 ?conversationId= 或帧内标签。
func (s *Server) deliverEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	ev, err := generation.DecodeEvent(body)
	if err != nil {
		writeError(c, err)
		return
	}
	scope := generation.Scope{
		GenerationID:   c.Param("gid"),
		ConversationID: util.FirstNonEmpty(c.Query("conversationId"), ev.ConversationID),
	}
	if scope.ConversationID == "" {
		badRequest(c, "invalid_input", "conversationId is required")
		return
	}
	out, err := s.turns.Deliver(c.Request.Context(), scope, ev)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, out)
}

// ========================================
// Reads
// ========================================

func (s *Server) activeTurn(c *gin.Context) (*turn.Turn, bool) {
	t, err := s.turns.Active(c.Param("cid"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return t, true
}

func (s *Server) getSnapshot(c *gin.Context) {
	if t, ok := s.activeTurn(c); ok {
		success(c, t.Runtime().Snapshot())
	}
}

func (s *Server) getDisplayBlocks(c *gin.Context) {
	if t, ok := s.activeTurn(c); ok {
		success(c, generation.DisplayBlocks(t.Runtime().Snapshot().Segments))
	}
}

func (s *Server) getStats(c *gin.Context) {
	if t, ok := s.activeTurn(c); ok {
		success(c, t.Runtime().ActivityStats())
	}
}

func (s *Server) getMessage(c *gin.Context) {
	if t, ok := s.activeTurn(c); ok {
		success(c, t.Runtime().BuildAssistantMessage())
	}
}

func (s *Server) getFinalized(c *gin.Context) {
	f, ok := s.turns.Finalized(c.Param("cid"))
	if !ok {
		notFound(c, "no finalized message for conversation "+c.Param("cid"))
		return
	}
	success(c, f)
}

func (s *Server) listMessages(c *gin.Context) {
	cid := c.Param("cid")
	limit := queryLimit(c, s.opts.ListLimit)
	if s.opts.History == nil {
		items := []generation.AssistantMessage{}
		if f, ok := s.turns.Finalized(cid); ok {
			items = append(items, f.Message)
		}
		success(c, items)
		return
	}
	items, err := s.opts.History.ListByConversation(c.Request.Context(), cid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, items)
}

// ========================================
// Commands
// ========================================

type approvalRequest struct {
	ToolUseID string `json:"toolUseId" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

func (s *Server) setApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	status := generation.ApprovalStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	out, err := s.turns.SetApproval(c.Request.Context(), c.Param("cid"), req.ToolUseID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, out)
}

type authRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) setAuth(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	out, err := s.turns.SetAuth(c.Request.Context(), c.Param("cid"), strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, out)
}

type expandRequest struct {
	Expanded *bool `json:"expanded" binding:"required"`
}

func (s *Server) setSegmentExpanded(c *gin.Context) {
	var req expandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	out, err := s.turns.SetSegmentExpanded(c.Request.Context(), c.Param("cid"), c.Param("sid"), *req.Expanded)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, out)
}

func (s *Server) cancel(c *gin.Context) {
	out, err := s.turns.Cancel(c.Request.Context(), c.Param("cid"))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, out)
}
