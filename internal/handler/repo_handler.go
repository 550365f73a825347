package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/service"
)

// RepoHandler serves ingestion and chunk listing per repository.
type RepoHandler struct {
	ingestion *service.IngestionService
	qa        *service.QAService
}

// NewRepoHandler creates a new repository handler.
func NewRepoHandler(ingestion *service.IngestionService, qa *service.QAService) *RepoHandler {
	return &RepoHandler{ingestion: ingestion, qa: qa}
}

// Register sets up repository routes.
func (h *RepoHandler) Register(router fiber.Router) {
	repos := router.Group("/repositories")
	repos.Post("/:id/ingestions", h.StartIngestion)
	repos.Get("/:id/jobs", h.ListJobs)
	repos.Get("/:id/chunks", h.ListChunks)
	repos.Delete("/:id/chunks", h.PurgeChunks)
}

// StartIngestion schedules an ingestion and answers 202 with the queued job.
func (h *RepoHandler) StartIngestion(c fiber.Ctx) error {
	var body struct {
		Source string `json:"source"`
		Ref    string `json:"ref"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	job, err := h.ingestion.StartIngestion(c.Context(), domain.RepoRef{
		ID:     c.Params("id"),
		Source: body.Source,
		Ref:    body.Ref,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// ListJobs returns the repository's jobs, newest first.
func (h *RepoHandler) ListJobs(c fiber.Ctx) error {
	jobs, err := h.ingestion.ListJobs(c.Context(), c.Params("id"), queryInt(c, "limit", 20))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

// PurgeChunks drops the repository's index and answers 204. It answers 409
// while an ingestion is active.
func (h *RepoHandler) PurgeChunks(c fiber.Ctx) error {
	if err := h.ingestion.Purge(c.Context(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListChunks pages through chunk metadata.
func (h *RepoHandler) ListChunks(c fiber.Ctx) error {
	limit, ok := queryIntStrict(c, "limit")
	if !ok {
		return badRequest(c, "limit must be an integer")
	}
	offset, ok := queryIntStrict(c, "offset")
	if !ok {
		return badRequest(c, "offset must be an integer")
	}
	include, _ := strconv.ParseBool(c.Query("include_content"))

	chunks, total, err := h.qa.ListChunks(c.Context(), domain.ChunkQuery{
		RepositoryID:   c.Params("id"),
		PathPrefix:     c.Query("path_prefix"),
		Limit:          limit,
		Offset:         offset,
		IncludeContent: include,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"chunks": chunks, "total": total, "count": len(chunks)})
}

// queryInt reads an integer query param with a default value.
func queryInt(c fiber.Ctx, key string, defaultVal int) int {
	v := c.Query(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryIntStrict reads an optional integer query param, reporting false
// when it is present but malformed.
func queryIntStrict(c fiber.Ctx, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
