package main

import "time"

// Commands coming from clients. A single envelope covers every command
// type; unused fields are simply left empty on the wire.
type ClientFrame struct {
	Type       string          `json:"type"`                 // "createRoom", "joinRoom", "joinTeam", "startGame", "pauseGame", "resetGame", "sendMessage", "leaveRoom"
	Ack        int             `json:"ack,omitempty"`        // client-chosen correlation id for the reply
	UserToken  string          `json:"userToken,omitempty"`  // stable per-browser identity
	Username   string          `json:"username,omitempty"`   // display name
	RoomCode   string          `json:"roomCode,omitempty"`   // target room
	Team       string          `json:"team,omitempty"`       // "red", "blue", "spectator"
	Role       string          `json:"role,omitempty"`       // "sage", "disciple", "spectator"
	Message    string          `json:"message,omitempty"`    // chat text
	Parameters *GameParameters `json:"parameters,omitempty"` // room creation settings
}

// AckFrame is the per-request reply, correlated by the client's ack id.
// Failures carry a machine-readable code and a user-facing message.
type AckFrame struct {
	Type     string `json:"type"` // "ack"
	Ack      int    `json:"ack"`
	Success  bool   `json:"success"`
	RoomCode string `json:"roomCode,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// GameStateFrame broadcasts the authoritative game state for a room.
type GameStateFrame struct {
	Type      string     `json:"type"` // "gameStateUpdate"
	GameState *GameState `json:"gameState"`
}

// UsersFrame broadcasts the current roster, in join order.
type UsersFrame struct {
	Type  string  `json:"type"` // "usersUpdate"
	Users []*User `json:"users"`
}

// MessageFrame broadcasts a single new chat message.
type MessageFrame struct {
	Type    string  `json:"type"` // "newMessage"
	Message Message `json:"message"`
}

// HistoryFrame replays the full chat log to a (re)joining client.
type HistoryFrame struct {
	Type     string    `json:"type"` // "chatHistory"
	Messages []Message `json:"messages"`
}

// UserLeftFrame notifies a room that a connection dropped.
type UserLeftFrame struct {
	Type         string `json:"type"` // "userLeft"
	ConnectionID string `json:"connectionId"`
}

// ResetFrame is the first frame on every connection. It carries the
// process boot id; a client holding room state from a previous boot id
// knows the registry was wiped and discards its local copy.
type ResetFrame struct {
	Type    string `json:"type"` // "serverReset"
	Message string `json:"message"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Rooms     int       `json:"rooms"`
	Users     int       `json:"users"`
}
