// Package model defines shared data structures.
package model

import "time"

// GameMode identifies how a match was set up.
type GameMode uint8

// Game modes reported by the game start command.
const (
	GameModeVS         GameMode = 0x02
	GameModeOnline     GameMode = 0x08
	GameModeTargetTest GameMode = 0x0f
	GameModeHomeRun    GameMode = 0x20
)

// String returns a short label for the mode.
func (m GameMode) String() string {
	switch m {
	case GameModeVS:
		return "vs"
	case GameModeOnline:
		return "online"
	case GameModeTargetTest:
		return "target-test"
	case GameModeHomeRun:
		return "home-run"
	default:
		return "unknown"
	}
}

// PlayerType values from the game start command. PlayerTypeEmpty slots are
// dropped from MatchSettings.Players.
const (
	PlayerTypeHuman = 0
	PlayerTypeCPU   = 1
	PlayerTypeDemo  = 2
	PlayerTypeEmpty = 3
)

// PlayerSettings describes one occupied port at match start.
type PlayerSettings struct {
	PlayerIndex    int    `json:"playerIndex" yaml:"player-index"`
	Port           int    `json:"port" yaml:"port"`
	CharacterID    int    `json:"characterId" yaml:"character-id"`
	CharacterColor int    `json:"characterColor" yaml:"character-color"`
	Type           int    `json:"type" yaml:"type"`
	StartStocks    int    `json:"startStocks" yaml:"start-stocks"`
	TeamID         int    `json:"teamId" yaml:"team-id"`
	Nametag        string `json:"nametag" yaml:"nametag"`
	DisplayName    string `json:"displayName" yaml:"display-name"`
	ConnectCode    string `json:"connectCode" yaml:"connect-code"`
}

// MatchSettings is the snapshot taken when a match start is decoded.
type MatchSettings struct {
	SlpVersion string           `json:"slpVersion"`
	GameMode   GameMode         `json:"gameMode"`
	StageID    int              `json:"stageId"`
	IsTeams    bool             `json:"isTeams"`
	IsPAL      bool             `json:"isPAL"`
	Players    []PlayerSettings `json:"players"`
}

// Clone returns a copy that shares no memory with s.
func (s MatchSettings) Clone() MatchSettings {
	out := s
	out.Players = append([]PlayerSettings(nil), s.Players...)
	return out
}

// Player returns the settings for playerIndex.
func (s MatchSettings) Player(playerIndex int) (PlayerSettings, bool) {
	for _, p := range s.Players {
		if p.PlayerIndex == playerIndex {
			return p, true
		}
	}
	return PlayerSettings{}, false
}

// ConnectCodes returns the connect codes of the first two players, empty
// when a slot is missing.
func (s MatchSettings) ConnectCodes() (string, string) {
	var p1, p2 string
	if len(s.Players) > 0 {
		p1 = s.Players[0].ConnectCode
	}
	if len(s.Players) > 1 {
		p2 = s.Players[1].ConnectCode
	}
	return p1, p2
}

// PlayerNames holds the identity recorded in replay metadata.
type PlayerNames struct {
	Netplay string `json:"netplay"`
	Code    string `json:"code"`
}

// PlayerMetadata is the per-port entry of replay metadata.
type PlayerMetadata struct {
	Names      PlayerNames `json:"names"`
	Characters map[int]int `json:"characters"`
}

// Metadata is the trailing metadata block of a finished replay.
type Metadata struct {
	StartAt   time.Time              `json:"startAt"`
	LastFrame int                    `json:"lastFrame"`
	PlayedOn  string                 `json:"playedOn"`
	Players   map[int]PlayerMetadata `json:"players"`
}

// GameEndMethod tells how a match finished.
type GameEndMethod int

// Game end methods.
const (
	GameEndUnresolved GameEndMethod = 0
	GameEndTime       GameEndMethod = 1
	GameEndGame       GameEndMethod = 2
	GameEndResolved   GameEndMethod = 3
	GameEndNoContest  GameEndMethod = 7
)

// Placement is a player's finishing position; 0 is first.
type Placement struct {
	PlayerIndex int `json:"playerIndex"`
	Position    int `json:"position"`
}

// GameEnd is the decoded game end command.
type GameEnd struct {
	Method        GameEndMethod `json:"gameEndMethod"`
	LRASInitiator int           `json:"lrasInitiatorIndex"`
	Placements    []Placement   `json:"placements"`
}

// ReplaySummary is what the opponent history needs from one replay file.
// GameEnd is nil for replays that never finished.
type ReplaySummary struct {
	Settings MatchSettings `json:"settings"`
	Metadata Metadata      `json:"metadata"`
	Winners  []Placement   `json:"winners"`
	GameEnd  *GameEnd      `json:"gameEnd"`
}

// StockEvent records one stock of one player.
type StockEvent struct {
	PlayerIndex int     `json:"playerIndex"`
	Count       int     `json:"count"`
	StartFrame  int     `json:"startFrame"`
	EndFrame    *int    `json:"endFrame"`
	EndPercent  float64 `json:"endPercent"`
}

// PlayerStats summarizes one player's match.
type PlayerStats struct {
	PlayerIndex     int     `json:"playerIndex"`
	StocksLost      int     `json:"stocksLost"`
	StocksRemaining int     `json:"stocksRemaining"`
	Kills           int     `json:"kills"`
	DamageDealt     float64 `json:"damageDealt"`
	DamageTaken     float64 `json:"damageTaken"`
	FinalPercent    float64 `json:"finalPercent"`
}

// MatchStats is the post-match computation delivered with a match end.
type MatchStats struct {
	LastFrame          int           `json:"lastFrame"`
	PlayableFrameCount int           `json:"playableFrameCount"`
	GameComplete       bool          `json:"gameComplete"`
	Players            []PlayerStats `json:"players"`
	Stocks             []StockEvent  `json:"stocks"`
}

// Player returns the stats row for playerIndex.
func (s MatchStats) Player(playerIndex int) (PlayerStats, bool) {
	for _, p := range s.Players {
		if p.PlayerIndex == playerIndex {
			return p, true
		}
	}
	return PlayerStats{}, false
}

// OpponentRecord summarizes the most recent match against one opponent.
type OpponentRecord struct {
	ConnectCode string      `json:"connectCode" yaml:"connect-code"`
	Name        string      `json:"name" yaml:"name"`
	PlayerIndex int         `json:"playerIndex" yaml:"player-index"`
	Characters  map[int]int `json:"characters" yaml:"characters"`
	StartedAt   time.Time   `json:"dateStarted" yaml:"date-started"`
	DidUserWin  bool        `json:"didUserWin" yaml:"did-user-win"`
}

// MainCharacter returns the character played for the most frames, or -1.
func (r OpponentRecord) MainCharacter() int {
	best, bestFrames := -1, -1
	for id, frames := range r.Characters {
		if frames > bestFrames || (frames == bestFrames && id < best) {
			best, bestFrames = id, frames
		}
	}
	return best
}
