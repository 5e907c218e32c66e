package snippethandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"codecollab/internal/auth"
	"codecollab/internal/services/snippet"
)

type CreateSnippetBody struct {
	Title    string  `json:"title"    binding:"required" example:"fizzbuzz"`
	Code     string  `json:"code"     binding:"required" example:"print(1)"`
	Language string  `json:"language" binding:"required" example:"python"`
	RoomID   *string `json:"roomId"   example:"abc123"`
} // @name CreateSnippetRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type Handler struct {
	svc snippet.ISnippetService
}

func New(svc snippet.ISnippetService) *Handler { return &Handler{svc: svc} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/snippets", h.list)
	r.POST("/snippets", h.create)
}

// @Summary		List my snippets
// @Tags			Snippets
// @Success		200	{array}	snippet.Snippet
// @Router			/api/snippets [get]
func (h *Handler) list(c *gin.Context) {
	out, err := h.svc.ListSnippetsByUser(c.Request.Context(), auth.FromContext(c).UserID)
	if err != nil {
		zap.L().Error("snippets.list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Save a snippet
// @Tags			Snippets
// @Param			body	body		CreateSnippetBody	true	"Snippet"
// @Success		201		{object}	snippet.Snippet
// @Failure		400		{object}	ErrorResponse
// @Router			/api/snippets [post]
func (h *Handler) create(c *gin.Context) {
	var body CreateSnippetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: snippet.ErrInvalidSnippet.Error()})
		return
	}
	s, err := h.svc.CreateSnippet(c.Request.Context(), snippet.Snippet{
		Title:    body.Title,
		Code:     body.Code,
		Language: body.Language,
		UserID:   auth.FromContext(c).UserID,
		RoomID:   body.RoomID,
	})
	switch {
	case errors.Is(err, snippet.ErrInvalidSnippet):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case err != nil:
		zap.L().Error("snippets.create", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	default:
		c.JSON(http.StatusCreated, s)
	}
}
