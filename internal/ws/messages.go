package ws

import (
	"encoding/json"

	"codecollab/internal/services/room"
)

const (
	EventCodeUpdate        = "code_update"
	EventLanguageUpdate    = "language_update"
	EventChatMessage       = "chat_message"
	EventCursorUpdate      = "cursor_update"
	EventPresenceQuery     = "presence_query"
	EventVideoJoin         = "video_join"
	EventVideoOffer        = "video_offer"
	EventVideoAnswer       = "video_answer"
	EventVideoICECandidate = "video_ice_candidate"
	EventVideoLeave        = "video_leave"

	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventRoomError  = "room_error"
)

// Envelope is the discriminator every frame carries. Payload fields sit next
// to it at the top level: {"type":"cursor_update","line":3,"column":1}.
type Envelope struct {
	Type string `json:"type"`
}

// UserRef accepts a user id written either as a JSON string or a number.
type UserRef string

func (u *UserRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*u = UserRef(n.String())
	return nil
}

// ──────────────────────────── Inbound ─────────────────────────

type CodeUpdateRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Persist  bool   `json:"persist"`
	// older clients send shouldPersist
	ShouldPersist bool `json:"shouldPersist"`
}

func (r CodeUpdateRequest) persist() bool { return r.Persist || r.ShouldPersist }

type LanguageUpdateRequest struct {
	Language string `json:"language" validate:"required"`
	Persist  bool   `json:"persist"`
}

type ChatRequest struct {
	Content string `json:"content" validate:"required"`
}

type CursorRequest struct {
	Line   int `json:"line" validate:"gte=0"`
	Column int `json:"column" validate:"gte=0"`
}

type VideoJoinRequest struct {
	CallType string `json:"callType"`
}

// SignalRequest covers video_offer and video_answer.
type SignalRequest struct {
	Target UserRef         `json:"target" validate:"required"`
	Signal json.RawMessage `json:"signal" validate:"required"`
}

type CandidateRequest struct {
	Target    UserRef         `json:"target" validate:"required"`
	Candidate json.RawMessage `json:"candidate" validate:"required"`
}

// Empty is the payload of events that carry nothing but their type.
type Empty struct{}

// ──────────────────────────── Outbound ─────────────────────────

// Sender stamps an outbound event with the identity fixed at handshake.
type Sender struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type CodeUpdateEvent struct {
	Type string `json:"type"`
	Sender
	Code     string `json:"code"`
	Language string `json:"language"`
}

type LanguageUpdateEvent struct {
	Type string `json:"type"`
	Sender
	Language string `json:"language"`
}

type ChatEvent struct {
	Type string `json:"type"`
	room.Message
}

type CursorEvent struct {
	Type string `json:"type"`
	Sender
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PresenceEvent is used for user_joined, user_left, presence_query,
// video_join and video_leave.
type PresenceEvent struct {
	Type string `json:"type"`
	Sender
	CallType  string `json:"callType,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type SignalEvent struct {
	Type string `json:"type"`
	Sender
	Target    string          `json:"target"`
	Signal    json.RawMessage `json:"signal,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type RoomErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
