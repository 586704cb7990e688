package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/diff"
	"github.com/vrite/vrite/internal/doctree"
	"github.com/vrite/vrite/internal/prompts"
	"github.com/vrite/vrite/internal/session"
	"github.com/vrite/vrite/internal/stream"
)

type commandRequest struct {
	DocID   string `json:"docId" binding:"required"`
	Command string `json:"command" binding:"required"`
	Stream  bool   `json:"stream"`
}

type pendingView struct {
	Key          doctree.NodeKey `json:"key"`
	DiffType     string          `json:"diffType"`
	Text         string          `json:"text"`
	OriginalText string          `json:"originalText,omitempty"`
	HasOriginal  bool            `json:"hasOriginal"`
}

type turnResponse struct {
	Narration string            `json:"narration"`
	Reasoning string            `json:"reasoning,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	Apply     *diff.BatchResult `json:"apply,omitempty"`
	Pending   []pendingView     `json:"pending"`
	Blocks    []blocks.Block    `json:"blocks"`
}

func pendingViews(pd []diff.PendingDiff) []pendingView {
	views := make([]pendingView, 0, len(pd))
	for _, p := range pd {
		views = append(views, pendingView{
			Key:          p.Key,
			DiffType:     string(p.Annotation.DiffType),
			Text:         p.Annotation.Text,
			OriginalText: p.Annotation.OriginalText,
			HasOriginal:  p.Annotation.HasOriginal,
		})
	}
	return views
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.session(c.Request.Context(), req.DocID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.Stream {
		s.streamCommand(c, sess, req.Command)
		return
	}

	result, err := sess.RunTurn(c.Request.Context(), req.Command)
	if err != nil {
		s.turnError(c, err)
		return
	}

	c.JSON(http.StatusOK, turnResponse{
		Narration: result.Narration,
		Reasoning: result.Reasoning,
		Summary:   result.Summary,
		Apply:     result.Apply,
		Pending:   pendingViews(sess.Pending()),
		Blocks:    sess.Blocks(),
	})
}

// streamCommand relays the provider frames to the client as SSE while the
// session assembles and applies the turn.
func (s *Server) streamCommand(c *gin.Context, sess *session.DocumentSession, command string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := stream.NewEncoder(c.Writer)
	sink := func(f stream.Frame) {
		if err := enc.Encode(f); err != nil {
			log.Printf("write frame: %v", err)
		}
	}

	if _, err := sess.RunTurnStream(c.Request.Context(), command, sink); err != nil {
		sink(stream.Frame{Type: stream.FrameError, Message: err.Error()})
	}
}

func (s *Server) turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var pe *agent.ProviderError
		if errors.As(err, &pe) && pe.IsRateLimit {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type resolveRequest struct {
	DocID  string          `json:"docId" binding:"required"`
	Action string          `json:"action" binding:"required"`
	Key    doctree.NodeKey `json:"key"`
}

func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.session(c.Request.Context(), req.DocID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch req.Action {
	case "accept":
		err = sess.Accept(req.Key)
	case "reject":
		err = sess.Reject(req.Key)
	case "accept_all":
		err = sess.AcceptAll()
	case "reject_all":
		err = sess.RejectAll()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + req.Action})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	pending := sess.Pending()
	if len(pending) == 0 {
		s.reindex(req.DocID, sess)
	}

	c.JSON(http.StatusOK, turnResponse{
		Pending: pendingViews(pending),
		Blocks:  sess.Blocks(),
	})
}

func (s *Server) reindex(docID string, sess *session.DocumentSession) {
	ix, ok := s.snippets.(SnippetIndexer)
	if !ok {
		return
	}
	if err := ix.IndexDocument(docID, sess.Blocks()); err != nil {
		log.Printf("reindex %s: %v", docID, err)
	}
}

type formatRequest struct {
	Content    string `json:"content" binding:"required"`
	FormatType string `json:"formatType"`
}

func (s *Server) handleFormat(c *gin.Context) {
	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FormatType == "" {
		req.FormatType = "APA"
	}

	prompt, err := prompts.RenderFormat(req.Content, req.FormatType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.completer.Complete(c.Request.Context(), &agent.Request{Instruction: prompt})
	if err != nil {
		s.turnError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"formatted_content": resp.Summary,
		"format_type":       req.FormatType,
	})
}

type enhanceRequest struct {
	Prompt  string `json:"prompt" binding:"required"`
	Context string `json:"context"`
}

func (s *Server) handleEnhance(c *gin.Context) {
	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prompt, err := prompts.RenderEnhance(req.Prompt, req.Context)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.completer.Complete(c.Request.Context(), &agent.Request{Instruction: prompt})
	if err != nil {
		s.turnError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"enhanced_content": resp.Summary})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	metas, err := s.store.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": metas})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	docID := c.Param("id")
	sess, err := s.session(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, turnResponse{
		Pending: pendingViews(sess.Pending()),
		Blocks:  sess.Blocks(),
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	docID := c.Param("id")
	s.dropSession(docID)
	if err := s.store.DeleteDocument(c.Request.Context(), docID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": docID})
}
