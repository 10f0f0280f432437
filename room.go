package main

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// GameParameters is the configuration snapshot chosen at room creation.
// The content-side limits are carried for clients but not enforced here;
// word-list gameplay lives client-side.
type GameParameters struct {
	PreparationSeconds int      `json:"preparationSeconds"`
	DebateSeconds      int      `json:"debateSeconds"`
	VerdictSeconds     int      `json:"verdictSeconds"`
	RerollLimit        int      `json:"rerollLimit"`
	ForbiddenWords     int      `json:"forbiddenWords"`
	PropositionLimit   int      `json:"propositionLimit"`
	ScoreTarget        int      `json:"scoreTarget"`
	Categories         []string `json:"categories"`
}

func defaultParameters() GameParameters {
	return GameParameters{
		PreparationSeconds: 60,
		DebateSeconds:      120,
		VerdictSeconds:     30,
		RerollLimit:        3,
		ForbiddenWords:     5,
		PropositionLimit:   3,
		ScoreTarget:        10,
		Categories:         []string{"classic"},
	}
}

// Message is one chat or system entry, immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(username, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Username:  username,
		Message:   text,
		Timestamp: time.Now(),
	}
}

// Room is one isolated game session. Users is kept in join order; the
// first joiner is the admin.
type Room struct {
	Code       string         `json:"code"`
	Users      []*User        `json:"users"`
	Messages   []Message      `json:"messages"`
	Parameters GameParameters `json:"parameters"`
	Game       *GameState     `json:"gameState"`
}

func (r *Room) userByToken(token string) *User {
	for _, u := range r.Users {
		if u.ID == token {
			return u
		}
	}
	return nil
}

func (r *Room) removeUser(token string) bool {
	dst := r.Users[:0]
	removed := false
	for _, u := range r.Users {
		if u.ID == token {
			removed = true
			continue
		}
		dst = append(dst, u)
	}
	r.Users = dst
	return removed
}

func (r *Room) rosterSnapshot() []*User {
	return cloneUsers(r.Users)
}

func (r *Room) empty() bool {
	return len(r.Users) == 0
}

// Registry is the in-memory table of live rooms. Callers hold the
// server lock; room creation and room joining are separate operations,
// so a freshly created room starts with zero occupants.
type Registry struct {
	rooms map[string]*Room
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newRoomCode generates a 6-character code via crypto/rand with
// rejection sampling, retrying until it does not collide with a live
// room. The code space dwarfs any plausible room count, so this
// terminates quickly in practice.
func (rg *Registry) newRoomCode() string {
	const max = byte(255 - (256 % len(codeAlphabet)))

	for {
		out := make([]byte, 0, 6)
		buf := make([]byte, 12)
		for len(out) < 6 {
			if _, err := rand.Read(buf); err != nil {
				panic("crypto/rand failure: " + err.Error())
			}
			for _, b := range buf {
				if b <= max {
					out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
					if len(out) == 6 {
						break
					}
				}
			}
		}

		code := string(out)
		if _, exists := rg.rooms[code]; !exists {
			return code
		}
	}
}

func (rg *Registry) create(parameters GameParameters) *Room {
	room := &Room{
		Code:       rg.newRoomCode(),
		Parameters: parameters,
		Game:       newGameState(),
	}
	rg.rooms[room.Code] = room
	return room
}

func (rg *Registry) get(code string) (*Room, bool) {
	room, ok := rg.rooms[code]
	return room, ok
}

func (rg *Registry) delete(code string) {
	delete(rg.rooms, code)
}

func (rg *Registry) count() int {
	return len(rg.rooms)
}
