package roomhandler

type CreateRoomBody struct {
	Name     string `json:"name"     binding:"required" example:"Pairing session"`
	Language string `json:"language" binding:"required" example:"python"`
} // @name CreateRoomRequest

// Code is a pointer so an explicit empty buffer is accepted.
type UpdateCodeBody struct {
	Code     *string `json:"code"     binding:"required" example:"print(1)"`
	Language string  `json:"language" binding:"required" example:"python"`
} // @name UpdateCodeRequest

type PostMessageBody struct {
	Content string `json:"content" binding:"required" example:"hello"`
} // @name PostMessageRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse
