package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/compatscan/internal/engine"
	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/store"
)

// SSE event names.
const (
	sseStatus    = "status"
	sseProgress  = "progress"
	sseDone      = "done"
	sseRemoved   = "removed"
	sseHeartbeat = "heartbeat"
)

type progressData struct {
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
	Step     string `json:"step,omitempty"`
	ETAMS    int64  `json:"etaMs,omitempty"`
}

// doneData closes a stream for any terminal status; failures carry Error.
type doneData struct {
	JobID  string        `json:"jobId"`
	Status string        `json:"status"`
	Result *model.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type removedData struct {
	JobID string `json:"jobId"`
}

type heartbeatData struct {
	JobID    string    `json:"jobId"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	At       time.Time `json:"at"`
}

func doneFromJob(j *model.Job) doneData {
	return doneData{JobID: j.ID, Status: j.Status, Result: j.Result, Error: j.Error}
}

// handleStreamEvents streams one job's lifecycle as server-sent events. The
// stream opens with the current status and ends after a done or removed
// event, or when the client goes away.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	id := job.ID
	streamID := uuid.NewString()
	logger := s.logger.With("job_id", id, "stream_id", streamID)

	// Subscribe before re-reading the job so no event between the read and
	// the subscription is missed.
	ch, unsub := s.sched.Bus().Stream(id)
	defer unsub()

	job, err := s.sched.Store().Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		logger.Error("get job for event stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("set write deadline for SSE", "error", err)
	}
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) bool {
		if err := writeSSEEvent(w, event, data); err != nil {
			logger.Debug("event stream write failed", "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("event stream flush failed", "error", err)
			return false
		}
		return true
	}

	if !send(sseStatus, newJobView(job)) {
		return
	}
	if model.IsTerminal(job.Status) {
		send(sseDone, doneFromJob(job))
		return
	}

	logger.Debug("event stream opened")
	eventStreamsOpen.Inc()
	defer func() {
		eventStreamsOpen.Dec()
		logger.Debug("event stream closed")
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch:
			switch ev.Kind {
			case engine.EventProgress:
				if !send(sseProgress, progressData{JobID: id, Progress: ev.Progress, Step: ev.Step, ETAMS: ev.ETAMS}) {
					return
				}
			case engine.EventDone, engine.EventFailed:
				// The store already holds the terminal status.
				if j, err := s.sched.Store().Get(r.Context(), id); err == nil {
					send(sseDone, doneFromJob(j))
				} else {
					send(sseDone, doneData{JobID: id, Result: ev.Result, Error: ev.Error})
				}
				return
			case engine.EventRemoved:
				send(sseRemoved, removedData{JobID: id})
				return
			}
		case <-ticker.C:
			// A dropped terminal event must not leave the client waiting.
			if !s.heartbeatTick(r.Context(), id, send) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// heartbeatTick re-checks the job and sends a heartbeat, or the terminal
// event the stream missed. It reports whether the stream stays open.
func (s *Server) heartbeatTick(ctx context.Context, id string, send func(string, any) bool) bool {
	j, err := s.sched.Store().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		send(sseRemoved, removedData{JobID: id})
		return false
	}
	if err != nil {
		return send(sseHeartbeat, heartbeatData{JobID: id, At: time.Now().UTC()})
	}
	if model.IsTerminal(j.Status) {
		send(sseDone, doneFromJob(j))
		return false
	}
	return send(sseHeartbeat, heartbeatData{
		JobID:    id,
		Status:   j.Status,
		Progress: j.Progress,
		At:       time.Now().UTC(),
	})
}

// writeSSEEvent writes a named SSE event with a JSON data line.
func writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}
