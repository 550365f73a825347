package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/service"
)

// RAGHandler serves retrieval, question answering and question history.
type RAGHandler struct {
	qa *service.QAService
}

// NewRAGHandler creates a new RAG handler.
func NewRAGHandler(qa *service.QAService) *RAGHandler {
	return &RAGHandler{qa: qa}
}

// Register sets up RAG routes.
func (h *RAGHandler) Register(router fiber.Router) {
	repos := router.Group("/repositories")
	repos.Post("/:id/retrieve", h.Retrieve)
	repos.Post("/:id/ask", h.Ask)
	repos.Get("/:id/questions", h.ListQuestions)
}

// Retrieve returns the ranked evidence for a question, with content unless
// include_content is false.
func (h *RAGHandler) Retrieve(c fiber.Ctx) error {
	var body struct {
		Question       string `json:"question"`
		K              int    `json:"k"`
		IncludeContent *bool  `json:"include_content"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	results, err := h.qa.Retrieve(c.Context(), c.Params("id"), body.Question, body.K)
	if err != nil {
		return writeError(c, err)
	}
	if body.IncludeContent != nil && !*body.IncludeContent {
		for i := range results {
			results[i].Content = ""
		}
	}
	if results == nil {
		results = []domain.ScoredChunk{}
	}
	return c.JSON(fiber.Map{"results": results, "count": len(results)})
}

// Ask answers a question from the repository's latest completed ingestion.
func (h *RAGHandler) Ask(c fiber.Ctx) error {
	var body struct {
		Question string `json:"question"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	answer, err := h.qa.Ask(c.Context(), c.Params("id"), body.Question)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(answer)
}

// ListQuestions returns the question history, newest first.
func (h *RAGHandler) ListQuestions(c fiber.Ctx) error {
	limit, ok := queryIntStrict(c, "limit")
	if !ok {
		return badRequest(c, "limit must be an integer")
	}
	offset, ok := queryIntStrict(c, "offset")
	if !ok {
		return badRequest(c, "offset must be an integer")
	}

	records, total, err := h.qa.ListQuestions(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"questions": records, "total": total, "count": len(records)})
}
