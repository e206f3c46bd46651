package roomhandler

type CreateRoomBody struct {
	RoomName    string `json:"roomName"    binding:"required" example:"Team Chat"`
	RoomID      string `json:"roomId"      binding:"omitempty"`
	Description string `json:"description" binding:"omitempty"`
} // @name CreateRoomRequest

type UpdateRoomBody struct {
	RoomName    *string `json:"roomName"`
	Description *string `json:"description"`
} // @name UpdateRoomRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type MessagesQuery struct {
	Limit int `form:"limit,default=200" binding:"gte=0"`
} // @name MessagesQuery
