package roomhandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"codecollab/internal/auth"
	"codecollab/internal/services/room"
)

// Publisher pushes a REST-written document to connected room members.
type Publisher interface {
	PublishCode(roomID string, by auth.Identity, code, language string)
}

type Handler struct {
	svc room.IRoomService
	pub Publisher
}

func New(svc room.IRoomService, pub Publisher) *Handler { return &Handler{svc: svc, pub: pub} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.POST("/rooms", h.create)
	r.GET("/rooms/:id", h.info)
	r.PUT("/rooms/:id", h.updateCode)
	r.GET("/rooms/:id/messages", h.messages)
	r.POST("/rooms/:id/messages", h.postMessage)
}

// @Summary		List rooms
// @Tags			Rooms
// @Success		200	{array}		room.Room
// @Failure		401	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/api/rooms [get]
func (h *Handler) list(c *gin.Context) {
	out, err := h.svc.ListRooms(c.Request.Context())
	if err != nil {
		internalError(c, "rooms.list", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Create a room
// @Description	The caller becomes the room's creator.
// @Tags			Rooms
// @Param			body	body		CreateRoomBody	true	"Room payload"
// @Success		201		{object}	room.Room
// @Failure		400		{object}	ErrorResponse
// @Router			/api/rooms [post]
func (h *Handler) create(c *gin.Context) {
	var body CreateRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: room.ErrInvalidRoom.Error()})
		return
	}
	id := auth.FromContext(c)
	r, err := h.svc.CreateRoom(c.Request.Context(), body.Name, body.Language, id.UserID, id.Username)
	if errors.Is(err, room.ErrInvalidRoom) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		internalError(c, "rooms.create", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// @Summary		Get room details
// @Description	Includes the participants seen so far.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(abc123)
// @Success		200	{object}	room.Room
// @Failure		404	{object}	ErrorResponse
// @Router			/api/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	r, err := h.svc.GetRoom(c.Request.Context(), c.Param("id"))
	if errors.Is(err, room.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		internalError(c, "rooms.get", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Summary		Save room code
// @Description	Persists the document and pushes it to connected members.
// @Tags			Rooms
// @Param			id		path		string			true	"Room ID"	default(abc123)
// @Param			body	body		UpdateCodeBody	true	"Document"
// @Success		200		{object}	room.Room
// @Failure		400		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/api/rooms/{id} [put]
func (h *Handler) updateCode(c *gin.Context) {
	var body UpdateCodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "code and language are required"})
		return
	}
	roomID := c.Param("id")
	r, err := h.svc.UpdateRoomCode(c.Request.Context(), roomID, *body.Code, body.Language)
	if errors.Is(err, room.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		internalError(c, "rooms.update_code", err)
		return
	}
	if h.pub != nil {
		h.pub.PublishCode(roomID, auth.FromContext(c), *body.Code, body.Language)
	}
	c.JSON(http.StatusOK, r)
}

// @Summary		List chat history
// @Tags			Messages
// @Param			id	path		string	true	"Room ID"	default(abc123)
// @Success		200	{array}		room.Message
// @Router			/api/rooms/{id}/messages [get]
func (h *Handler) messages(c *gin.Context) {
	out, err := h.svc.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, "messages.list", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Post a chat message
// @Description	Stored only; live members are reached over the websocket.
// @Tags			Messages
// @Param			id		path		string			true	"Room ID"	default(abc123)
// @Param			body	body		PostMessageBody	true	"Message"
// @Success		201		{object}	room.Message
// @Failure		400		{object}	ErrorResponse
// @Router			/api/rooms/{id}/messages [post]
func (h *Handler) postMessage(c *gin.Context) {
	var body PostMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: room.ErrEmptyMessage.Error()})
		return
	}
	id := auth.FromContext(c)
	m, err := h.svc.AppendMessage(c.Request.Context(), c.Param("id"), body.Content, id.UserID, id.Username)
	if errors.Is(err, room.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		internalError(c, "messages.create", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func internalError(c *gin.Context, event string, err error) {
	zap.L().Error(event, zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
