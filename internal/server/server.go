// Package server exposes the editing engine over HTTP for the editor
// frontend: one command endpoint (JSON or SSE), resolution endpoints, and
// the formatting helpers.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/session"
)

// SnippetIndexer is implemented by snippet searchers that also maintain an
// index. When the configured searcher supports it, the server reindexes a
// document once all of its annotations are resolved.
type SnippetIndexer interface {
	IndexDocument(docID string, bs []blocks.Block) error
}

// Server wires the document store, the completion provider and per-document
// sessions behind a gin router.
type Server struct {
	store     *session.Store
	completer agent.Completer
	snippets  session.SnippetSearcher

	mu       sync.Mutex
	sessions map[string]*session.DocumentSession
}

// New creates a server. snippets may be nil.
func New(store *session.Store, completer agent.Completer, snippets session.SnippetSearcher) *Server {
	return &Server{
		store:     store,
		completer: completer,
		snippets:  snippets,
		sessions:  make(map[string]*session.DocumentSession),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/command", s.handleCommand)
		api.POST("/resolve", s.handleResolve)
		api.POST("/format", s.handleFormat)
		api.POST("/enhance", s.handleEnhance)

		api.GET("/documents", s.handleListDocuments)
		api.GET("/documents/:id", s.handleGetDocument)
		api.DELETE("/documents/:id", s.handleDeleteDocument)
	}

	return router
}

// Close closes all open sessions, flushing their unsaved state.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*session.DocumentSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session.DocumentSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			log.Printf("close session %s: %v", sess.DocID(), err)
		}
	}
}

// session returns the open session for a document, opening one on first use.
func (s *Server) session(ctx context.Context, docID string) (*session.DocumentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[docID]; ok {
		return sess, nil
	}
	sess, err := session.Open(ctx, s.store, s.completer, s.snippets, docID)
	if err != nil {
		return nil, err
	}
	s.sessions[docID] = sess
	return sess, nil
}

func (s *Server) dropSession(docID string) {
	s.mu.Lock()
	sess, ok := s.sessions[docID]
	delete(s.sessions, docID)
	s.mu.Unlock()
	if ok {
		if err := sess.Close(); err != nil {
			log.Printf("close session %s: %v", docID, err)
		}
	}
}

// corsMiddleware allows the local editor frontend to call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "http://localhost:3000")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
