package main

import "errors"

// Phase labels, indexed by GameState.CurrentPhase. Index 0 is the lobby
// phase; the rest run in order once the admin starts the game.
var phaseLabels = []string{"waiting", "preparation", "debate", "verdict"}

// sageTakenText is user-facing and shown verbatim in the client.
const sageTakenText = "Il y a déjà un Sage dans cette équipe !"

var errSageTaken = errors.New(sageTakenText)

// Team holds at most one sage and any number of disciples.
type Team struct {
	Sage      *User   `json:"sage"`
	Disciples []*User `json:"disciples"`
}

type Teams struct {
	Red  Team `json:"red"`
	Blue Team `json:"blue"`
}

type Score struct {
	Red  int `json:"red"`
	Blue int `json:"blue"`
}

// GameState is the per-room machine for team assignment, phase
// progression, and score. Every in-room user occupies exactly one of
// {spectators, red sage, red disciples, blue sage, blue disciples} at
// any time; all mutations go through removeEverywhere first to keep
// that union intact.
type GameState struct {
	CurrentPhase  int     `json:"currentPhase"`
	Teams         Teams   `json:"teams"`
	Spectators    []*User `json:"spectators"`
	IsPlaying     bool    `json:"isPlaying"`
	TimeRemaining int     `json:"timeRemaining"`
	TotalTime     int     `json:"totalTime"`
	Score         Score   `json:"score"`
}

func newGameState() *GameState {
	return &GameState{
		Spectators: []*User{},
	}
}

func (g *GameState) phaseLabel() string {
	if g.CurrentPhase < 0 || g.CurrentPhase >= len(phaseLabels) {
		return phaseLabels[0]
	}
	return phaseLabels[g.CurrentPhase]
}

// phaseDuration returns the configured length in whole seconds for an
// active phase, 0 for the waiting phase.
func phaseDuration(parameters GameParameters, phase int) int {
	switch phase {
	case 1:
		return parameters.PreparationSeconds
	case 2:
		return parameters.DebateSeconds
	case 3:
		return parameters.VerdictSeconds
	default:
		return 0
	}
}

// validAssignment rejects team/role pairs that could never satisfy the
// consistency rule: sage and disciple exist only on a team, and
// spectators hold no team role.
func validAssignment(team, role string) bool {
	switch team {
	case TeamSpectator:
		return role == "" || role == RoleSpectator
	case TeamRed, TeamBlue:
		return role == "" || role == RoleSage || role == RoleDisciple
	default:
		return false
	}
}

func withoutUser(users []*User, token string) []*User {
	dst := users[:0]
	for _, u := range users {
		if u.ID == token {
			continue
		}
		dst = append(dst, u)
	}
	return dst
}

// removeEverywhere clears the user out of every position. Idempotent;
// safe to call for a user holding no position.
func (g *GameState) removeEverywhere(token string) {
	g.Spectators = withoutUser(g.Spectators, token)
	g.Teams.Red.Disciples = withoutUser(g.Teams.Red.Disciples, token)
	g.Teams.Blue.Disciples = withoutUser(g.Teams.Blue.Disciples, token)
	if g.Teams.Red.Sage != nil && g.Teams.Red.Sage.ID == token {
		g.Teams.Red.Sage = nil
	}
	if g.Teams.Blue.Sage != nil && g.Teams.Blue.Sage.ID == token {
		g.Teams.Blue.Sage = nil
	}
}

// assignTeam moves a user to a new position. Re-selecting the position
// the user already holds is allowed and is a no-op in effect. The only
// failure is claiming a sage slot held by someone else.
func (g *GameState) assignTeam(user *User, team, role string) error {
	if role == "" {
		if team == TeamSpectator {
			role = RoleSpectator
		} else {
			role = RoleDisciple
		}
	}

	if role == RoleSage {
		var slot *User
		switch team {
		case TeamRed:
			slot = g.Teams.Red.Sage
		case TeamBlue:
			slot = g.Teams.Blue.Sage
		}
		if slot != nil && slot.ID != user.ID {
			return errSageTaken
		}
	}

	g.removeEverywhere(user.ID)

	switch {
	case team == TeamSpectator:
		role = RoleSpectator
		g.Spectators = append(g.Spectators, user)
	case role == RoleSage && team == TeamRed:
		g.Teams.Red.Sage = user
	case role == RoleSage && team == TeamBlue:
		g.Teams.Blue.Sage = user
	case team == TeamRed:
		g.Teams.Red.Disciples = append(g.Teams.Red.Disciples, user)
	case team == TeamBlue:
		g.Teams.Blue.Disciples = append(g.Teams.Blue.Disciples, user)
	}

	user.Team = team
	user.Role = role

	return nil
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneUsers(users []*User) []*User {
	out := make([]*User, len(users))
	for i, u := range users {
		out[i] = cloneUser(u)
	}
	return out
}

// snapshot returns a detached copy for outbound frames. Write pumps
// marshal outside the server lock, so a broadcast must carry the state
// as it stood when the triggering operation queued it, not whatever a
// later mutation leaves behind.
func (g *GameState) snapshot() *GameState {
	return &GameState{
		CurrentPhase: g.CurrentPhase,
		Teams: Teams{
			Red:  Team{Sage: cloneUser(g.Teams.Red.Sage), Disciples: cloneUsers(g.Teams.Red.Disciples)},
			Blue: Team{Sage: cloneUser(g.Teams.Blue.Sage), Disciples: cloneUsers(g.Teams.Blue.Disciples)},
		},
		Spectators:    cloneUsers(g.Spectators),
		IsPlaying:     g.IsPlaying,
		TimeRemaining: g.TimeRemaining,
		TotalTime:     g.TotalTime,
		Score:         g.Score,
	}
}

// start moves the machine from the waiting phase into the first active
// phase. Returns false without mutating if the game is already past the
// waiting phase.
func (g *GameState) start(parameters GameParameters) bool {
	if g.CurrentPhase != 0 {
		return false
	}
	g.CurrentPhase = 1
	g.IsPlaying = true
	g.TotalTime = phaseDuration(parameters, g.CurrentPhase)
	g.TimeRemaining = g.TotalTime
	return true
}

// pause stops the countdown without resetting it. Only meaningful in an
// active phase.
func (g *GameState) pause() bool {
	if g.CurrentPhase == 0 {
		return false
	}
	g.IsPlaying = false
	return true
}

// reset returns the machine to the waiting phase and zeroes score and
// timers. Team rosters are preserved so a rematch keeps its teams.
func (g *GameState) reset() {
	g.CurrentPhase = 0
	g.IsPlaying = false
	g.TimeRemaining = 0
	g.TotalTime = 0
	g.Score = Score{}
}
