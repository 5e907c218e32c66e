package waitlisthandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"codecollab/internal/services/waitlist"
)

type JoinBody struct {
	Email string `json:"email" binding:"required,email" example:"ada@example.com"`
} // @name JoinWaitlistRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type Handler struct {
	svc waitlist.IWaitlistService
}

func New(svc waitlist.IWaitlistService) *Handler { return &Handler{svc: svc} }

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/waitlist", h.join)
}

// @Summary		Join the waitlist
// @Description	Repeating a signup returns the original entry.
// @Tags			Waitlist
// @Param			body	body		JoinBody	true	"Email"
// @Success		201		{object}	waitlist.Entry
// @Failure		400		{object}	ErrorResponse
// @Router			/api/waitlist [post]
func (h *Handler) join(c *gin.Context) {
	var body JoinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: waitlist.ErrInvalidEmail.Error()})
		return
	}
	e, err := h.svc.AddToWaitlist(c.Request.Context(), body.Email)
	switch {
	case errors.Is(err, waitlist.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case err != nil:
		zap.L().Error("waitlist.add", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	default:
		c.JSON(http.StatusCreated, e)
	}
}
