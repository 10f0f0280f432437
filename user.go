package main

const (
	TeamRed       = "red"
	TeamBlue      = "blue"
	TeamSpectator = "spectator"

	RoleSage      = "sage"
	RoleDisciple  = "disciple"
	RoleSpectator = "spectator"
)

// User is a room member. ID is the stable per-browser token and is the
// only field used for identity comparisons; ConnectionID changes on
// every reconnect and is used solely for delivery.
type User struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
	IsAdmin      bool   `json:"isAdmin"`
	Team         string `json:"team"`
	Role         string `json:"role"`
}

func newUser(token, connectionID, username string, isAdmin bool) *User {
	return &User{
		ID:           token,
		ConnectionID: connectionID,
		Username:     username,
		IsAdmin:      isAdmin,
		Team:         TeamSpectator,
		Role:         RoleSpectator,
	}
}

// Directory resolves "who sent this frame on this wire". The transport's
// disconnect notification only carries a connection id, so this is the
// one place connection ids map back to users. Callers hold the server
// lock.
type Directory struct {
	byConnection map[string]*User
}

func newDirectory() *Directory {
	return &Directory{
		byConnection: make(map[string]*User),
	}
}

func (d *Directory) upsertByConnection(connectionID string, user *User) {
	d.byConnection[connectionID] = user
}

func (d *Directory) getByConnection(connectionID string) (*User, bool) {
	user, ok := d.byConnection[connectionID]
	return user, ok
}

func (d *Directory) removeByConnection(connectionID string) (*User, bool) {
	user, ok := d.byConnection[connectionID]
	if ok {
		delete(d.byConnection, connectionID)
	}
	return user, ok
}

func (d *Directory) count() int {
	return len(d.byConnection)
}
