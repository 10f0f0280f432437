package main

import (
	"testing"
	"time"
)

func newSessionServer() *Server {
	return newServer(&Config{
		bind:      "127.0.0.1",
		port:      3000,
		roomGrace: time.Minute,
	})
}

// attach registers a bare client without a live websocket; handlers
// only touch the send channel, so tests drive handleFrame directly.
func attach(srv *Server, connectionID string) *client {
	c := &client{
		send:         make(chan any, 64),
		connectionID: connectionID,
	}
	srv.mu.Lock()
	srv.clients[c] = true
	srv.mu.Unlock()
	return c
}

func drainFrames(c *client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func nextAck(t *testing.T, c *client) AckFrame {
	t.Helper()
	for _, msg := range drainFrames(c) {
		if ack, ok := msg.(AckFrame); ok {
			return ack
		}
	}
	t.Fatal("expected an ack frame")
	return AckFrame{}
}

func createRoom(t *testing.T, srv *Server, c *client, token string) string {
	t.Helper()
	srv.handleFrame(c, ClientFrame{Type: "createRoom", Ack: 1, UserToken: token})
	ack := nextAck(t, c)
	if !ack.Success || ack.RoomCode == "" {
		t.Fatalf("createRoom failed: %+v", ack)
	}
	return ack.RoomCode
}

func joinRoom(t *testing.T, srv *Server, c *client, token, username, code string) {
	t.Helper()
	srv.handleFrame(c, ClientFrame{Type: "joinRoom", Ack: 2, UserToken: token, Username: username, RoomCode: code})
	ack := nextAck(t, c)
	if !ack.Success {
		t.Fatalf("joinRoom failed: %+v", ack)
	}
}

func roomByCode(t *testing.T, srv *Server, code string) *Room {
	t.Helper()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	room, ok := srv.registry.get(code)
	if !ok {
		t.Fatalf("room %q not in registry", code)
	}
	return room
}

func TestCreateRoomAck(t *testing.T) {
	srv := newSessionServer()
	c := attach(srv, "c1")

	code := createRoom(t, srv, c, "t1")
	if len(code) != 6 {
		t.Fatalf("expected 6-character room code, got %q", code)
	}

	room := roomByCode(t, srv, code)
	if !room.empty() {
		t.Fatal("expected created room to have no occupants")
	}

	srv.mu.Lock()
	_, pending := srv.reapTimers[code]
	srv.mu.Unlock()
	if !pending {
		t.Fatal("expected empty created room to have a pending reap timer")
	}
}

func TestCreateRoomRequiresToken(t *testing.T) {
	srv := newSessionServer()
	c := attach(srv, "c1")

	srv.handleFrame(c, ClientFrame{Type: "createRoom", Ack: 1})
	ack := nextAck(t, c)
	if ack.Success || ack.Error != errMissingParameters {
		t.Fatalf("expected missing-parameters rejection, got %+v", ack)
	}
}

func TestJoinRoomAdminAssignment(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)

	room := roomByCode(t, srv, code)
	if len(room.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(room.Users))
	}
	if !room.Users[0].IsAdmin || room.Users[0].ID != "t1" {
		t.Fatalf("expected first joiner to be admin, got %+v", room.Users[0])
	}
	if room.Users[1].IsAdmin {
		t.Fatal("expected second joiner to not be admin")
	}
	if room.Users[0].Team != TeamSpectator || room.Users[0].Role != RoleSpectator {
		t.Fatalf("expected joiner to start as spectator, got %+v", room.Users[0])
	}

	srv.mu.Lock()
	_, pending := srv.reapTimers[code]
	srv.mu.Unlock()
	if pending {
		t.Fatal("expected join to cancel the pending reap timer")
	}
}

func TestJoinRoomUnknownCode(t *testing.T) {
	srv := newSessionServer()
	c := attach(srv, "c1")

	srv.handleFrame(c, ClientFrame{Type: "joinRoom", Ack: 1, UserToken: "t1", Username: "Ada", RoomCode: "ZZZZZZ"})
	ack := nextAck(t, c)
	if ack.Success || ack.Error != errRoomNotFound {
		t.Fatalf("expected room-not-found, got %+v", ack)
	}
}

func TestRejoinReattaches(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	srv.handleFrame(a, ClientFrame{Type: "joinTeam", Ack: 3, UserToken: "t1", RoomCode: code, Team: TeamRed, Role: RoleSage})
	if ack := nextAck(t, a); !ack.Success {
		t.Fatalf("joinTeam failed: %+v", ack)
	}

	// Same stable token, fresh connection.
	a2 := attach(srv, "c9")
	joinRoom(t, srv, a2, "t1", "Ada", code)

	room := roomByCode(t, srv, code)
	if len(room.Users) != 1 {
		t.Fatalf("expected reattach to keep a single roster entry, got %d", len(room.Users))
	}
	user := room.Users[0]
	if user.ConnectionID != "c9" {
		t.Fatalf("expected connection id replaced, got %q", user.ConnectionID)
	}
	if user.Team != TeamSpectator || user.Role != RoleSpectator {
		t.Fatalf("expected team and role reset on reattach, got %q/%q", user.Team, user.Role)
	}
	if !user.IsAdmin {
		t.Fatal("expected admin flag to survive reattach")
	}
	if room.Game.Teams.Red.Sage != nil {
		t.Fatal("expected sage slot vacated on reattach")
	}
}

func TestBroadcastFramesSnapshotState(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)
	drainFrames(a)
	drainFrames(b)

	// Queue broadcasts for the sage claim, then mutate again before
	// anything drains b. The queued frames must still describe the
	// state the first operation produced.
	srv.handleFrame(a, ClientFrame{Type: "joinTeam", UserToken: "t1", RoomCode: code, Team: TeamRed, Role: RoleSage})
	srv.handleFrame(a, ClientFrame{Type: "joinTeam", UserToken: "t1", RoomCode: code, Team: TeamSpectator})

	frames := drainFrames(b)

	var users *UsersFrame
	var state *GameStateFrame
	for _, frame := range frames {
		if uf, ok := frame.(UsersFrame); ok && users == nil {
			users = &uf
		}
		if gf, ok := frame.(GameStateFrame); ok && state == nil {
			state = &gf
		}
	}
	if users == nil || state == nil {
		t.Fatal("expected roster and game-state broadcasts")
	}

	var ada *User
	for _, u := range users.Users {
		if u.ID == "t1" {
			ada = u
		}
	}
	if ada == nil {
		t.Fatal("expected t1 in the broadcast roster")
	}
	if ada.Team != TeamRed || ada.Role != RoleSage {
		t.Fatalf("expected first broadcast to show red sage, got %q/%q", ada.Team, ada.Role)
	}
	if state.GameState.Teams.Red.Sage == nil || state.GameState.Teams.Red.Sage.ID != "t1" {
		t.Fatal("expected first game-state broadcast to hold the sage slot")
	}

	// And mutating a delivered frame must not reach back into the room.
	ada.Team = TeamBlue
	room := roomByCode(t, srv, code)
	if room.userByToken("t1").Team != TeamSpectator {
		t.Fatal("expected delivered frames to be detached from live state")
	}
}

func TestJoinTeamSageConflict(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)

	srv.handleFrame(a, ClientFrame{Type: "joinTeam", Ack: 3, UserToken: "t1", RoomCode: code, Team: TeamRed, Role: RoleSage})
	if ack := nextAck(t, a); !ack.Success {
		t.Fatalf("first sage claim failed: %+v", ack)
	}

	srv.handleFrame(b, ClientFrame{Type: "joinTeam", Ack: 3, UserToken: "t2", RoomCode: code, Team: TeamRed, Role: RoleSage})
	ack := nextAck(t, b)
	if ack.Success {
		t.Fatal("expected second sage claim to fail")
	}
	if ack.Error != errRoleConflict {
		t.Fatalf("expected role-conflict, got %q", ack.Error)
	}
	if ack.Message != sageTakenText {
		t.Fatalf("unexpected conflict message: %q", ack.Message)
	}

	room := roomByCode(t, srv, code)
	if room.Game.Teams.Red.Sage == nil || room.Game.Teams.Red.Sage.ID != "t1" {
		t.Fatal("expected red sage to remain t1")
	}
}

func TestJoinTeamUnresolvedUser(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	// b never joined the room and carries an unknown token.
	srv.handleFrame(b, ClientFrame{Type: "joinTeam", Ack: 1, UserToken: "t9", RoomCode: code, Team: TeamRed})
	ack := nextAck(t, b)
	if ack.Success || ack.Error != errUserNotFound {
		t.Fatalf("expected user-not-found, got %+v", ack)
	}
}

func TestJoinRoomTokenSwitchDetachesPreviousUser(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	// The browser cleared its storage and minted a fresh token; the
	// old roster entry must not linger as an unowned ghost.
	srv.handleFrame(a, ClientFrame{Type: "joinRoom", Ack: 3, UserToken: "t9", Username: "Ada", RoomCode: code})
	if ack := nextAck(t, a); !ack.Success {
		t.Fatalf("rejoin with new token failed: %+v", ack)
	}

	room := roomByCode(t, srv, code)
	if len(room.Users) != 1 || room.Users[0].ID != "t9" {
		t.Fatalf("expected a single roster entry for t9, got %+v", room.Users)
	}
	if got := positions(room.Game, "t1"); len(got) != 0 {
		t.Fatalf("expected t1 cleared from game positions, got %v", got)
	}

	srv.mu.Lock()
	user, ok := srv.directory.getByConnection("c1")
	srv.mu.Unlock()
	if !ok || user.ID != "t9" {
		t.Fatalf("expected directory to resolve the new token, got %+v", user)
	}

	// Leaving now empties the room, so the reaper can still collect it.
	srv.handleFrame(a, ClientFrame{Type: "leaveRoom"})
	room = roomByCode(t, srv, code)
	if !room.empty() {
		t.Fatalf("expected empty room after leave, got %+v", room.Users)
	}
	srv.mu.Lock()
	_, pending := srv.reapTimers[code]
	srv.mu.Unlock()
	if !pending {
		t.Fatal("expected reap timer scheduled for the emptied room")
	}
}

func TestJoinTeamRejectsBadAssignment(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	srv.handleFrame(a, ClientFrame{Type: "joinTeam", Ack: 1, UserToken: "t1", RoomCode: code, Team: "green"})
	if ack := nextAck(t, a); ack.Success || ack.Error != errMissingParameters {
		t.Fatalf("expected missing-parameters for unknown team, got %+v", ack)
	}

	srv.handleFrame(a, ClientFrame{Type: "joinTeam", Ack: 2, UserToken: "t1", RoomCode: code, Team: TeamRed, Role: RoleSpectator})
	if ack := nextAck(t, a); ack.Success || ack.Error != errMissingParameters {
		t.Fatalf("expected missing-parameters for on-team spectator role, got %+v", ack)
	}
}

func TestStartGameAdminOnly(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)
	drainFrames(a)
	drainFrames(b)

	// Fire-and-forget from a non-admin: silence, no mutation, no broadcast.
	srv.handleFrame(b, ClientFrame{Type: "startGame"})
	if frames := drainFrames(a); len(frames) != 0 {
		t.Fatalf("expected no broadcast after non-admin start, got %d frames", len(frames))
	}
	room := roomByCode(t, srv, code)
	if room.Game.CurrentPhase != 0 {
		t.Fatalf("expected phase to stay 0, got %d", room.Game.CurrentPhase)
	}

	// With an ack id the rejection is reported instead of silent.
	srv.handleFrame(b, ClientFrame{Type: "startGame", Ack: 5})
	if ack := nextAck(t, b); ack.Success || ack.Error != errNotAdmin {
		t.Fatalf("expected not-admin rejection, got %+v", ack)
	}
}

func TestStartGameByAdmin(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)
	drainFrames(a)
	drainFrames(b)

	srv.handleFrame(a, ClientFrame{Type: "startGame"})

	room := roomByCode(t, srv, code)
	if room.Game.CurrentPhase != 1 || !room.Game.IsPlaying {
		t.Fatalf("expected active phase 1, got phase=%d playing=%v", room.Game.CurrentPhase, room.Game.IsPlaying)
	}

	found := false
	for _, msg := range drainFrames(b) {
		if gs, ok := msg.(GameStateFrame); ok && gs.GameState.CurrentPhase == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected gameStateUpdate broadcast to other members")
	}

	// Second start is ignored and broadcasts nothing.
	drainFrames(a)
	srv.handleFrame(a, ClientFrame{Type: "startGame"})
	if frames := drainFrames(b); len(frames) != 0 {
		t.Fatalf("expected no broadcast after redundant start, got %d frames", len(frames))
	}
}

func TestPauseGame(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	srv.handleFrame(a, ClientFrame{Type: "startGame"})
	drainFrames(a)

	srv.handleFrame(a, ClientFrame{Type: "pauseGame"})

	room := roomByCode(t, srv, code)
	if room.Game.IsPlaying {
		t.Fatal("expected game paused")
	}
	if room.Game.TimeRemaining != room.Game.TotalTime {
		t.Fatal("expected pause to preserve the timer")
	}
}

func TestSendMessage(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)
	drainFrames(a)
	drainFrames(b)

	srv.handleFrame(a, ClientFrame{Type: "sendMessage", Ack: 4, Message: "  hello  "})
	if ack := nextAck(t, a); !ack.Success {
		t.Fatalf("sendMessage failed: %+v", ack)
	}

	room := roomByCode(t, srv, code)
	if len(room.Messages) != 1 {
		t.Fatalf("expected 1 message in the log, got %d", len(room.Messages))
	}
	msg := room.Messages[0]
	if msg.Username != "Ada" || msg.Message != "hello" {
		t.Fatalf("unexpected message record: %+v", msg)
	}
	if msg.ID == "" || time.Since(msg.Timestamp) > time.Minute {
		t.Fatalf("unexpected message metadata: %+v", msg)
	}

	found := false
	for _, frame := range drainFrames(b) {
		if mf, ok := frame.(MessageFrame); ok && mf.Message.Message == "hello" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected newMessage broadcast to other members")
	}
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	srv.handleFrame(a, ClientFrame{Type: "sendMessage", Ack: 4, Message: "   "})
	ack := nextAck(t, a)
	if ack.Success || ack.Error != errMissingParameters {
		t.Fatalf("expected missing-parameters, got %+v", ack)
	}

	room := roomByCode(t, srv, code)
	if len(room.Messages) != 0 {
		t.Fatal("expected no message appended")
	}
}

func TestChatHistoryReplay(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	srv.handleFrame(a, ClientFrame{Type: "sendMessage", Message: "hello"})
	drainFrames(a)

	b := attach(srv, "c2")
	srv.handleFrame(b, ClientFrame{Type: "joinRoom", Ack: 2, UserToken: "t2", Username: "Bob", RoomCode: code})

	var history *HistoryFrame
	for _, frame := range drainFrames(b) {
		if hf, ok := frame.(HistoryFrame); ok {
			history = &hf
		}
	}
	if history == nil {
		t.Fatal("expected chatHistory replay on join")
	}
	if len(history.Messages) != 1 || history.Messages[0].Message != "hello" {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
}

func TestDisconnectRemovesUser(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")
	b := attach(srv, "c2")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)
	joinRoom(t, srv, b, "t2", "Bob", code)
	drainFrames(a)
	drainFrames(b)

	srv.handleDisconnect(b)

	room := roomByCode(t, srv, code)
	if len(room.Users) != 1 || room.Users[0].ID != "t1" {
		t.Fatalf("expected only t1 in roster, got %+v", room.Users)
	}
	if got := positions(room.Game, "t2"); len(got) != 0 {
		t.Fatalf("expected t2 cleared from game positions, got %v", got)
	}

	srv.mu.Lock()
	_, ok := srv.directory.getByConnection("c2")
	srv.mu.Unlock()
	if ok {
		t.Fatal("expected directory entry removed on disconnect")
	}

	left := false
	for _, frame := range drainFrames(a) {
		if lf, ok := frame.(UserLeftFrame); ok && lf.ConnectionID == "c2" {
			left = true
		}
	}
	if !left {
		t.Fatal("expected userLeft broadcast with the dropped connection id")
	}
}

func TestStaleDisconnectAfterReattach(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	a2 := attach(srv, "c2")
	joinRoom(t, srv, a2, "t1", "Ada", code)

	// The superseded connection finally times out. It no longer owns
	// the user and must not evict it.
	srv.handleDisconnect(a)

	room := roomByCode(t, srv, code)
	if len(room.Users) != 1 || room.Users[0].ConnectionID != "c2" {
		t.Fatalf("expected t1 to survive on its newer connection, got %+v", room.Users)
	}
}

func TestLastLeaveSchedulesReap(t *testing.T) {
	srv := newSessionServer()
	a := attach(srv, "c1")

	code := createRoom(t, srv, a, "t1")
	joinRoom(t, srv, a, "t1", "Ada", code)

	srv.handleFrame(a, ClientFrame{Type: "leaveRoom"})

	room := roomByCode(t, srv, code)
	if !room.empty() {
		t.Fatal("expected empty room after leave")
	}

	srv.mu.Lock()
	_, pending := srv.reapTimers[code]
	srv.mu.Unlock()
	if !pending {
		t.Fatal("expected reap timer scheduled for emptied room")
	}
}
