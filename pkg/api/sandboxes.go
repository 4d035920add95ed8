package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// pauseSandboxHandler suspends a thread's active sandbox session
// without tearing it down, so a later resume can pick up where it left
// off.
func (s *Server) pauseSandboxHandler(c *gin.Context) {
	threadID := c.Param("thread_id")

	ctx, cancel := newRequestContext(c, 30*time.Second)
	defer cancel()

	if err := s.sandboxes.PauseSession(ctx, threadID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "status": "paused"})
}

// resumeSandboxHandler reactivates a previously paused sandbox
// session.
func (s *Server) resumeSandboxHandler(c *gin.Context) {
	threadID := c.Param("thread_id")

	ctx, cancel := newRequestContext(c, 30*time.Second)
	defer cancel()

	if err := s.sandboxes.ResumeSession(ctx, threadID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "status": "active"})
}

// destroySandboxHandler tears down one chat session's terminal and, if
// it was the thread's last session, its lease too. session_id is
// optional — an empty value lets the manager's own validation decide
// whether that's acceptable.
func (s *Server) destroySandboxHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	sessionID := c.Query("session_id")

	ctx, cancel := newRequestContext(c, 30*time.Second)
	defer cancel()

	if err := s.sandboxes.DestroySession(ctx, threadID, sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "session_id": sessionID, "status": "destroyed"})
}

// deleteThreadHandler cancels any in-flight run, then deletes every
// durable resource (run log, terminals, lease) this thread ever
// acquired.
func (s *Server) deleteThreadHandler(c *gin.Context) {
	threadID := c.Param("thread_id")

	ctx, cancel := newRequestContext(c, 30*time.Second)
	defer cancel()

	if err := s.threads.DeleteThread(ctx, threadID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "status": "deleted"})
}
