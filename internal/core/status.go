package core

import (
	"strconv"

	"github.com/vovakirdan/serverbot/internal/query"
)

// Player is one client line of a getstatus response.
type Player struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Ping  int    `json:"ping"`
}

// IsBot reports whether the player is a server-side bot. Bots always report ping 0.
func (p Player) IsBot() bool {
	return p.Ping == 0
}

// ServerStatus is the last successfully parsed view of the game server.
type ServerStatus struct {
	Map               string   `json:"map"`
	MaxClients        int      `json:"max_clients"`
	MaxPrivateClients int      `json:"max_private_clients"`
	MaxNormalClients  int      `json:"max_normal_clients"`
	HumanPlayers      int      `json:"human_players"`
	Players           []Player `json:"players"`
}

// BuildStatus derives a ServerStatus from a raw response. Malformed client
// lines are skipped.
func BuildStatus(resp *query.StatusResponse) ServerStatus {
	st := ServerStatus{Players: []Player{}}
	if resp == nil {
		return st
	}

	for _, line := range resp.Clients {
		cl, ok := query.ParseClientLine(line)
		if !ok {
			continue
		}
		p := Player{Name: cl.Name, Score: cl.Score, Ping: cl.Ping}
		if !p.IsBot() {
			st.HumanPlayers++
		}
		st.Players = append(st.Players, p)
	}

	st.Map = resp.Info["mapname"]
	st.MaxClients = nonNegative(atoi(resp.Info["sv_maxclients"]))
	st.MaxPrivateClients = nonNegative(atoi(resp.Info["sv_privateclients"]))
	st.MaxNormalClients = nonNegative(st.MaxClients - st.MaxPrivateClients)
	return st
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
