package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/service"
)

// sseTimeout bounds how long a progress stream stays open.
const sseTimeout = 30 * time.Minute

// JobsHandler serves ingestion job status and progress streams.
type JobsHandler struct {
	ingestion *service.IngestionService
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(ingestion *service.IngestionService) *JobsHandler {
	return &JobsHandler{ingestion: ingestion}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the stored job.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, err := h.ingestion.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

// StreamSSE streams job snapshots as Server-Sent Events. Intermediate
// snapshots are "progress" events; the stream ends with a "completed" or
// "failed" event.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")

	// Subscribe first so a job finishing in between is not missed.
	updates, cancel := h.ingestion.Subscribe(id)
	job, err := h.ingestion.GetJob(c.Context(), id)
	if err != nil {
		cancel()
		return writeError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if job.Terminal() {
		cancel()
		return c.SendString(sseEvent(job))
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		fmt.Fprint(w, sseEvent(job))
		if err := w.Flush(); err != nil {
			return
		}

		timeout := time.After(sseTimeout)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				fmt.Fprint(w, sseEvent(&update))
				if err := w.Flush(); err != nil {
					slog.Debug("SSE client gone", "job_id", id)
					return
				}
				if update.Terminal() {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func sseEvent(job *domain.Job) string {
	event := "progress"
	if job.Terminal() {
		event = job.Status
	}
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
