package http

import "github.com/vovakirdan/serverbot/internal/core"

// PlayerResponse is one player row.
type PlayerResponse struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Ping  int    `json:"ping"`
	Bot   bool   `json:"bot"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Connection        string           `json:"connection"`
	SteamID           string           `json:"steam_id,omitempty"`
	DisplayName       string           `json:"display_name"`
	Avatar            string           `json:"avatar,omitempty"`
	Online            bool             `json:"online"`
	Map               string           `json:"map,omitempty"`
	HumanPlayers      int              `json:"human_players"`
	MaxNormalClients  int              `json:"max_normal_clients"`
	MaxPrivateClients int              `json:"max_private_clients"`
	Players           []PlayerResponse `json:"players"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFromSnapshot(snap core.Snapshot) StatusResponse {
	resp := StatusResponse{
		Connection:  snap.Connection,
		SteamID:     snap.SelfID,
		DisplayName: snap.DisplayName,
		Avatar:      snap.Avatar,
		Online:      !snap.Offline,
		Players:     []PlayerResponse{},
	}
	if snap.Offline {
		return resp
	}

	resp.Map = snap.Server.Map
	resp.HumanPlayers = snap.Server.HumanPlayers
	resp.MaxNormalClients = snap.Server.MaxNormalClients
	resp.MaxPrivateClients = snap.Server.MaxPrivateClients
	for _, p := range snap.Server.Players {
		resp.Players = append(resp.Players, PlayerResponse{
			Name:  p.Name,
			Score: p.Score,
			Ping:  p.Ping,
			Bot:   p.IsBot(),
		})
	}
	return resp
}
