package protocol

// CreateRoomRequest is the body of POST /voice/create-room.
type CreateRoomRequest struct {
	RoomName string `json:"room_name"`
}

// CreateRoomResponse carries the credentials needed to join a provisioned room.
type CreateRoomResponse struct {
	Success  bool   `json:"success"`
	RoomName string `json:"room_name,omitempty"`
	URL      string `json:"url,omitempty"`
	Token    string `json:"token,omitempty"`
	Error    string `json:"error,omitempty"`

	// Detail is set instead of Error by servers that report failures as
	// {"detail": "..."}.
	Detail string `json:"detail,omitempty"`
}

// Reason returns the failure message, if any.
func (r CreateRoomResponse) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Detail
}

// DeleteRoomResponse is the body of DELETE /voice/room/{room_name}.
type DeleteRoomResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Status is the body of GET /status on the voice backend.
type Status struct {
	VoiceEnabled bool `json:"voice_enabled"`
	HasContent   bool `json:"has_content"`
}

// ChatRequest is the body of POST /chat on the crawling backend.
type ChatRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// ChatSource is a retrieved page cited by an answer.
type ChatSource struct {
	URL   string  `json:"url"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// ChatResponse is the crawling backend's answer.
type ChatResponse struct {
	Success bool         `json:"success"`
	Answer  string       `json:"answer,omitempty"`
	Sources []ChatSource `json:"sources,omitempty"`
	Error   string       `json:"error,omitempty"`
}
