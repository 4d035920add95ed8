package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
)

const streamKeepaliveInterval = 15 * time.Second

// streamRunHandler serves a thread's run activity as Server-Sent
// Events. A client resumes by passing run_id and after_seq: history
// since after_seq replays from the durable log first, then — if the
// named run (or, with no run_id, whichever run is currently in
// flight) is still live — the handler tails its buffer until it
// finishes.
func (s *Server) streamRunHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	requestedRunID := c.Query("run_id")

	afterSeq := 0
	if raw := c.Query("after_seq"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after_seq must be an integer"})
			return
		}
		afterSeq = n
	}

	current, hasCurrent := s.threads.CurrentRun(threadID)
	var live *runstream.Stream
	if hasCurrent && (requestedRunID == "" || requestedRunID == current.RunID()) {
		live = current
	}

	replayRunID := requestedRunID
	if replayRunID == "" {
		if !hasCurrent {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run_id given and no run currently in progress for this thread"})
			return
		}
		replayRunID = current.RunID()
	}

	ctx := c.Request.Context()

	history, err := s.runs.ReadAfter(ctx, threadID, replayRunID, afterSeq)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: 5000\n\n")
	c.Writer.Flush()

	cursor := afterSeq
	for _, ev := range history {
		if !writeSSEEvent(c, ev) {
			return
		}
		cursor = ev.Seq
	}

	if live == nil {
		return
	}

	for {
		events, newCursor, err := live.Buffer().ReadWithTimeout(ctx, cursor, streamKeepaliveInterval)
		if err != nil {
			return
		}
		cursor = newCursor

		if len(events) == 0 {
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
			continue
		}

		done := false
		for _, ev := range events {
			if !writeSSEEvent(c, ev) {
				return
			}
			switch ev.EventType {
			case runstream.EventDone, runstream.EventError, runstream.EventCancelled:
				done = true
			}
		}
		if done {
			return
		}
	}
}

// writeSSEEvent writes one SSE frame and flushes it, reporting whether
// the write succeeded — a broken client connection surfaces here as a
// write error, not a panic.
func writeSSEEvent(c *gin.Context, ev runstream.Event) bool {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.EventType, payload); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
