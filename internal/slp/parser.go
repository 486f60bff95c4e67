package slp

import (
	"fmt"

	"github.com/verte-zerg/slpwatch/internal/model"
)

// Game start field offsets; every offset counts the command byte.
const (
	offIsTeams         = 0x0d
	offStageID         = 0x13
	offPlayerBlock     = 0x65
	playerBlockSize    = 0x24
	offNametag         = 0x161
	nametagSize        = 0x10
	offIsPAL           = 0x1a1
	offGameMode        = 0x1a4
	offDisplayName     = 0x1a5
	displayNameSize    = 0x1f
	offConnectCode     = 0x221
	connectCodeSize    = 0x0a
	maxPlayers         = 4
	noPlayer       int = -1
)

// PostFrame is the subset of a post-frame update the parser keeps.
type PostFrame struct {
	Frame           int
	PlayerIndex     int
	IsFollower      bool
	Percent         float64
	StocksRemaining int
	LastHitBy       int
}

// Parser keeps the state of one match as its commands arrive.
type Parser struct {
	settings    *model.MatchSettings
	gameEnd     *model.GameEnd
	latestFrame int
	finalPosts  map[int]PostFrame
	stats       *statsBuilder
	onEnd       []func(model.GameEnd)
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	p := &Parser{}
	p.reset()
	return p
}

func (p *Parser) reset() {
	p.settings = nil
	p.gameEnd = nil
	p.latestFrame = FirstFrame - 1
	p.finalPosts = map[int]PostFrame{}
	p.stats = newStatsBuilder()
}

// OnEnd registers fn to be called when a game end command is handled.
func (p *Parser) OnEnd(fn func(model.GameEnd)) {
	p.onEnd = append(p.onEnd, fn)
}

// HandleCommand updates the match state with one command. It has the
// CommandHandler signature so it can be plugged into a Stream.
func (p *Parser) HandleCommand(cmd Command, payload []byte) error {
	switch cmd {
	case CommandGameStart:
		p.reset()
		settings, err := parseGameStart(payload)
		if err != nil {
			return err
		}
		p.settings = &settings
		p.stats.setPlayers(settings.Players)
	case CommandPostFrame:
		post := parsePostFrame(payload)
		if post.Frame > p.latestFrame {
			p.latestFrame = post.Frame
		}
		if post.IsFollower {
			return nil
		}
		p.finalPosts[post.PlayerIndex] = post
		p.stats.addPostFrame(post)
	case CommandFrameStart, CommandFrameBookend:
		if frame := int(readInt32(payload, 0x1)); frame > p.latestFrame {
			p.latestFrame = frame
		}
	case CommandGameEnd:
		end := parseGameEnd(payload)
		p.gameEnd = &end
		for _, fn := range p.onEnd {
			fn(end)
		}
	}
	return nil
}

// Settings returns a copy of the current match settings.
func (p *Parser) Settings() (model.MatchSettings, bool) {
	if p.settings == nil {
		return model.MatchSettings{}, false
	}
	return p.settings.Clone(), true
}

// GameEnd returns the game end of the current match, if it has arrived.
func (p *Parser) GameEnd() (model.GameEnd, bool) {
	if p.gameEnd == nil {
		return model.GameEnd{}, false
	}
	return *p.gameEnd, true
}

// LatestFrame returns the highest frame index seen so far.
func (p *Parser) LatestFrame() int {
	return p.latestFrame
}

// FinalPostFrames returns the last post-frame update of each leader, ordered
// by player index.
func (p *Parser) FinalPostFrames() []PostFrame {
	out := make([]PostFrame, 0, len(p.finalPosts))
	for i := 0; i < maxPlayers; i++ {
		if post, ok := p.finalPosts[i]; ok {
			out = append(out, post)
		}
	}
	return out
}

// Stats computes the match stats from the frames seen so far.
func (p *Parser) Stats() model.MatchStats {
	stats := p.stats.build()
	stats.LastFrame = p.latestFrame
	if p.latestFrame >= FirstPlayableFrame {
		stats.PlayableFrameCount = p.latestFrame - FirstPlayableFrame
	}
	stats.GameComplete = p.gameEnd != nil
	return stats
}

// Winners applies the winner rules to the current match.
func (p *Parser) Winners() []model.Placement {
	if p.settings == nil || p.gameEnd == nil {
		return nil
	}
	return Winners(*p.gameEnd, *p.settings, p.FinalPostFrames())
}

func parseGameStart(b []byte) (model.MatchSettings, error) {
	if len(b) < offPlayerBlock+maxPlayers*playerBlockSize {
		return model.MatchSettings{}, fmt.Errorf("%w: game start payload too short (%d bytes)", ErrInvalidReplay, len(b))
	}
	settings := model.MatchSettings{
		SlpVersion: fmt.Sprintf("%d.%d.%d", readUint8(b, 0x1), readUint8(b, 0x2), readUint8(b, 0x3)),
		IsTeams:    readBool(b, offIsTeams),
		StageID:    int(readUint16(b, offStageID)),
		IsPAL:      readBool(b, offIsPAL),
		GameMode:   model.GameMode(readUint8(b, offGameMode)),
	}
	for i := 0; i < maxPlayers; i++ {
		off := offPlayerBlock + i*playerBlockSize
		playerType := int(readUint8(b, off+0x1))
		if playerType == model.PlayerTypeEmpty {
			continue
		}
		settings.Players = append(settings.Players, model.PlayerSettings{
			PlayerIndex:    i,
			Port:           i + 1,
			CharacterID:    int(readUint8(b, off)),
			Type:           playerType,
			StartStocks:    int(readUint8(b, off+0x2)),
			CharacterColor: int(readUint8(b, off+0x3)),
			TeamID:         int(readUint8(b, off+0x9)),
			Nametag:        decodeText(readBytes(b, offNametag+i*nametagSize, nametagSize)),
			DisplayName:    decodeText(readBytes(b, offDisplayName+i*displayNameSize, displayNameSize)),
			ConnectCode:    decodeText(readBytes(b, offConnectCode+i*connectCodeSize, connectCodeSize)),
		})
	}
	return settings, nil
}

func parsePostFrame(b []byte) PostFrame {
	return PostFrame{
		Frame:           int(readInt32(b, 0x1)),
		PlayerIndex:     int(readUint8(b, 0x5)),
		IsFollower:      readBool(b, 0x6),
		Percent:         float64(readFloat32(b, 0x16)),
		LastHitBy:       int(readUint8(b, 0x20)),
		StocksRemaining: int(readUint8(b, 0x21)),
	}
}

func parseGameEnd(b []byte) model.GameEnd {
	end := model.GameEnd{
		Method:        model.GameEndMethod(readUint8(b, 0x1)),
		LRASInitiator: noPlayer,
	}
	if len(b) > 0x2 {
		end.LRASInitiator = int(readInt8(b, 0x2))
	}
	if len(b) > 0x6 {
		for i := 0; i < maxPlayers; i++ {
			end.Placements = append(end.Placements, model.Placement{
				PlayerIndex: i,
				Position:    int(readInt8(b, 0x3+i)),
			})
		}
	}
	return end
}
