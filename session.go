package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// client is one live websocket. The connection id is ephemeral and
// replaced on every reconnect; the stable token rides in frame payloads
// (with the cookie as fallback).
type client struct {
	conn          *websocket.Conn
	send          chan any
	connectionID  string
	fallbackToken string

	// Guarded by the server mutex.
	roomCode string
	closed   bool
	gone     bool
}

// Server owns all lobby state: the room registry, the connection
// directory, the broadcast groups, and the pending room reap timers.
// One mutex guards the lot; every handler is validate-mutate-broadcast
// under it, which gives each room a single authoritative ordering
// point.
type Server struct {
	cfg    *Config
	bootID string

	mu          sync.Mutex
	registry    *Registry
	directory   *Directory
	clients     map[*client]bool
	subscribers map[string]map[*client]bool
	reapTimers  map[string]*time.Timer
}

// newServer builds fresh tables. State never survives a restart; a new
// boot id tells reconnecting clients to discard whatever they cached.
func newServer(cfg *Config) *Server {
	return &Server{
		cfg:         cfg,
		bootID:      uuid.NewString(),
		registry:    newRegistry(),
		directory:   newDirectory(),
		clients:     make(map[*client]bool),
		subscribers: make(map[string]map[*client]bool),
		reapTimers:  make(map[string]*time.Timer),
	}
}

func (s *Server) counts() (rooms, users int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.count(), s.directory.count()
}

func (s *Server) roomExists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry.get(code)
	return ok
}

// trySendLocked delivers without blocking the event path. A client
// whose buffer is full is dropped; its read pump notices the closed
// connection and runs the normal disconnect cleanup.
func (s *Server) trySendLocked(c *client, msg any) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		s.dropLocked(c)
	}
}

func (s *Server) dropLocked(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	delete(s.clients, c)
	if c.roomCode != "" {
		delete(s.subscribers[c.roomCode], c)
	}
}

func (s *Server) broadcastLocked(code string, msg any) {
	for c := range s.subscribers[code] {
		s.trySendLocked(c, msg)
	}
}

func (s *Server) broadcastGameStateLocked(room *Room) {
	s.broadcastLocked(room.Code, GameStateFrame{Type: "gameStateUpdate", GameState: room.Game.snapshot()})
}

func (s *Server) broadcastRoomLocked(room *Room) {
	s.broadcastLocked(room.Code, UsersFrame{Type: "usersUpdate", Users: room.rosterSnapshot()})
	s.broadcastGameStateLocked(room)
}

func (s *Server) ackLocked(c *client, f ClientFrame, ack AckFrame) {
	ack.Type = "ack"
	ack.Ack = f.Ack
	s.trySendLocked(c, ack)
}

func (s *Server) failLocked(c *client, f ClientFrame, code string) {
	s.ackLocked(c, f, AckFrame{Success: false, Error: code})
}

func (c *client) token(f ClientFrame) string {
	if f.UserToken != "" {
		return f.UserToken
	}
	return c.fallbackToken
}

func (s *Server) handleFrame(c *client, f ClientFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.gone {
		return
	}

	switch f.Type {
	case "createRoom":
		s.handleCreateRoomLocked(c, f)
	case "joinRoom":
		s.handleJoinRoomLocked(c, f)
	case "joinTeam":
		s.handleJoinTeamLocked(c, f)
	case "startGame":
		s.handleStartGameLocked(c, f)
	case "pauseGame":
		s.handlePauseGameLocked(c, f)
	case "resetGame":
		s.handleResetGameLocked(c, f)
	case "sendMessage":
		s.handleSendMessageLocked(c, f)
	case "leaveRoom":
		s.leaveRoomLocked(c)
	default:
		logf(s.cfg, "WS: Ignoring unknown frame type %q from %s", f.Type, c.connectionID)
	}
}

func (s *Server) handleCreateRoomLocked(c *client, f ClientFrame) {
	if c.token(f) == "" {
		s.failLocked(c, f, errMissingParameters)
		return
	}

	parameters := defaultParameters()
	if f.Parameters != nil {
		parameters = *f.Parameters
	}

	room := s.registry.create(parameters)

	// The creator has not joined yet, so the room starts empty and is
	// already on the clock.
	s.scheduleReapLocked(room.Code)

	logf(s.cfg, "ROOMS: Created room %s", room.Code)
	s.ackLocked(c, f, AckFrame{Success: true, RoomCode: room.Code})
}

func (s *Server) handleJoinRoomLocked(c *client, f ClientFrame) {
	token := c.token(f)
	if token == "" || f.Username == "" || f.RoomCode == "" {
		s.failLocked(c, f, errMissingParameters)
		return
	}

	room, ok := s.registry.get(f.RoomCode)
	if !ok {
		s.failLocked(c, f, errRoomNotFound)
		return
	}

	// A connection can only occupy one room at a time.
	if c.roomCode != "" && c.roomCode != room.Code {
		s.leaveRoomLocked(c)
	}

	// Nor more than one identity: if this connection starts presenting
	// a different token (a browser that cleared its storage
	// mid-session), its previous user leaves first instead of
	// lingering as a roster entry no connection owns.
	if prev, ok := s.directory.getByConnection(c.connectionID); ok && prev.ID != token {
		s.leaveRoomLocked(c)
	}

	s.cancelReapLocked(room.Code)

	user := room.userByToken(token)
	if user != nil {
		// Reattach: same browser, new connection. Team and role reset
		// to spectator until the user picks a side again.
		user.ConnectionID = c.connectionID
		user.Username = f.Username
		_ = room.Game.assignTeam(user, TeamSpectator, "")
	} else {
		user = newUser(token, c.connectionID, f.Username, room.empty())
		room.Users = append(room.Users, user)
		_ = room.Game.assignTeam(user, TeamSpectator, "")
		logf(s.cfg, "ROOMS: %q joined %s", f.Username, room.Code)
	}

	s.directory.upsertByConnection(c.connectionID, user)
	c.roomCode = room.Code
	if s.subscribers[room.Code] == nil {
		s.subscribers[room.Code] = make(map[*client]bool)
	}
	s.subscribers[room.Code][c] = true

	s.ackLocked(c, f, AckFrame{Success: true, RoomCode: room.Code})
	s.trySendLocked(c, HistoryFrame{Type: "chatHistory", Messages: room.Messages})
	s.broadcastRoomLocked(room)
}

func (s *Server) handleJoinTeamLocked(c *client, f ClientFrame) {
	code := f.RoomCode
	if code == "" {
		code = c.roomCode
	}

	room, ok := s.registry.get(code)
	if !ok {
		s.failLocked(c, f, errRoomNotFound)
		return
	}

	user := room.userByToken(c.token(f))
	if user == nil {
		if resolved, ok := s.directory.getByConnection(c.connectionID); ok {
			user = room.userByToken(resolved.ID)
		}
	}
	if user == nil {
		s.failLocked(c, f, errUserNotFound)
		return
	}

	if !validAssignment(f.Team, f.Role) {
		s.failLocked(c, f, errMissingParameters)
		return
	}

	if err := room.Game.assignTeam(user, f.Team, f.Role); err != nil {
		s.ackLocked(c, f, AckFrame{Success: false, Error: errRoleConflict, Message: err.Error()})
		return
	}

	s.ackLocked(c, f, AckFrame{Success: true})
	s.broadcastRoomLocked(room)
}

// adminLocked resolves the caller by connection and returns their room,
// but only if they hold the admin flag. Admin-only transitions are
// fire-and-forget; callers that do want a reply set an ack id and get a
// not-admin rejection instead of silence.
func (s *Server) adminLocked(c *client, f ClientFrame) (*Room, bool) {
	user, ok := s.directory.getByConnection(c.connectionID)
	if !ok || !user.IsAdmin || c.roomCode == "" {
		if f.Ack != 0 {
			s.failLocked(c, f, errNotAdmin)
		}
		return nil, false
	}
	room, ok := s.registry.get(c.roomCode)
	if !ok {
		if f.Ack != 0 {
			s.failLocked(c, f, errRoomNotFound)
		}
		return nil, false
	}
	return room, true
}

func (s *Server) handleStartGameLocked(c *client, f ClientFrame) {
	room, ok := s.adminLocked(c, f)
	if !ok {
		return
	}
	if !room.Game.start(room.Parameters) {
		return
	}
	logf(s.cfg, "GAMES: Started game in %s (phase %q)", room.Code, room.Game.phaseLabel())
	if f.Ack != 0 {
		s.ackLocked(c, f, AckFrame{Success: true})
	}
	s.broadcastGameStateLocked(room)
}

func (s *Server) handlePauseGameLocked(c *client, f ClientFrame) {
	room, ok := s.adminLocked(c, f)
	if !ok {
		return
	}
	if !room.Game.pause() {
		return
	}
	if f.Ack != 0 {
		s.ackLocked(c, f, AckFrame{Success: true})
	}
	s.broadcastGameStateLocked(room)
}

func (s *Server) handleResetGameLocked(c *client, f ClientFrame) {
	room, ok := s.adminLocked(c, f)
	if !ok {
		return
	}
	room.Game.reset()
	if f.Ack != 0 {
		s.ackLocked(c, f, AckFrame{Success: true})
	}
	s.broadcastGameStateLocked(room)
}

func (s *Server) handleSendMessageLocked(c *client, f ClientFrame) {
	user, ok := s.directory.getByConnection(c.connectionID)
	if !ok {
		s.failLocked(c, f, errUserNotFound)
		return
	}

	text := strings.TrimSpace(f.Message)
	if text == "" {
		s.failLocked(c, f, errMissingParameters)
		return
	}

	room, ok := s.registry.get(c.roomCode)
	if !ok {
		s.failLocked(c, f, errRoomNotFound)
		return
	}

	msg := newMessage(user.Username, text)
	room.Messages = append(room.Messages, msg)

	s.ackLocked(c, f, AckFrame{Success: true})
	s.broadcastLocked(room.Code, MessageFrame{Type: "newMessage", Message: msg})
}

// leaveRoomLocked removes the connection's user from its room roster
// and game positions, starts the reap clock if the room emptied, and
// tells the rest of the room. The directory entry survives so the same
// connection can join another room.
func (s *Server) leaveRoomLocked(c *client) {
	if c.roomCode == "" {
		return
	}

	code := c.roomCode
	c.roomCode = ""
	delete(s.subscribers[code], c)

	room, ok := s.registry.get(code)
	if !ok {
		return
	}

	user, ok := s.directory.getByConnection(c.connectionID)
	if !ok {
		return
	}

	// A reconnect may have reattached this user to a newer connection;
	// only the connection that currently owns the user may evict it.
	if user.ConnectionID != c.connectionID {
		return
	}

	room.removeUser(user.ID)
	room.Game.removeEverywhere(user.ID)
	logf(s.cfg, "ROOMS: %q left %s", user.Username, code)

	if room.empty() {
		s.scheduleReapLocked(code)
	}

	s.broadcastLocked(code, UserLeftFrame{Type: "userLeft", ConnectionID: c.connectionID})
	s.broadcastRoomLocked(room)
}

// handleDisconnect runs once per connection, after its read pump exits.
func (s *Server) handleDisconnect(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.gone {
		return
	}
	c.gone = true

	s.leaveRoomLocked(c)
	s.directory.removeByConnection(c.connectionID)
	s.dropLocked(c)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const tokenCookieName = "wordsage_id"

// getOrSetUserToken issues the per-browser stable token for clients
// that do not bring their own in frame payloads.
func getOrSetUserToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(tokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func serveWS(cfg *Config, srv *Server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		token := getOrSetUserToken(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn:          conn,
			send:          make(chan any, 8),
			connectionID:  uuid.NewString(),
			fallbackToken: token,
		}

		logf(cfg, "WS: Connection %s from %s", c.connectionID, realIP(r))

		srv.mu.Lock()
		srv.clients[c] = true
		srv.trySendLocked(c, ResetFrame{Type: "serverReset", Message: srv.bootID})
		srv.mu.Unlock()

		go c.writePump()
		c.readPump(srv)
	}
}

func (c *client) readPump(srv *Server) {
	defer func() {
		srv.handleDisconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var f ClientFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		srv.handleFrame(c, f)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
