package slp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/ubjson"
)

// rawHeader is the fixed prefix of every replay file:
// {U\x03raw[$U#l followed by a big-endian int32 length.
var rawHeader = []byte{'{', 'U', 3, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'}

const rawOffset = 15

// Game is a fully parsed replay file.
type Game struct {
	Path     string
	Raw      []byte
	Metadata model.Metadata
	parser   *Parser
}

// ReadFile reads and parses the replay at path.
func ReadFile(path string) (*Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	game, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	game.Path = path
	return game, nil
}

// Parse parses replay file contents.
func Parse(data []byte) (*Game, error) {
	raw, rest, err := splitRaw(data)
	if err != nil {
		return nil, err
	}
	game := &Game{Raw: raw, parser: NewParser()}
	stream := NewStream(game.parser.HandleCommand)
	if _, err := stream.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to parse raw events: %w", err)
	}
	if _, ok := game.parser.Settings(); !ok {
		return nil, fmt.Errorf("%w: no game start", ErrInvalidReplay)
	}
	if len(rest) > 0 {
		meta, err := parseMetadata(rest)
		if err != nil {
			return nil, err
		}
		game.Metadata = meta
	}
	return game, nil
}

// ReadRaw returns the raw event section of the replay at path.
func ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	raw, _, err := splitRaw(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}

// Settings returns the match settings.
func (g *Game) Settings() model.MatchSettings {
	settings, _ := g.parser.Settings()
	return settings
}

// GameEnd returns the game end, which is missing for unfinished replays.
func (g *Game) GameEnd() (model.GameEnd, bool) {
	return g.parser.GameEnd()
}

// Winners returns the winning placements.
func (g *Game) Winners() []model.Placement {
	return g.parser.Winners()
}

// Stats returns the match stats.
func (g *Game) Stats() model.MatchStats {
	return g.parser.Stats()
}

// Summary returns what the opponent history needs from this replay.
func (g *Game) Summary() model.ReplaySummary {
	summary := model.ReplaySummary{
		Settings: g.Settings(),
		Metadata: g.Metadata,
		Winners:  g.Winners(),
	}
	if end, ok := g.GameEnd(); ok {
		summary.GameEnd = &end
	}
	return summary
}

func splitRaw(data []byte) ([]byte, []byte, error) {
	if len(data) < rawOffset || !bytes.Equal(data[:len(rawHeader)], rawHeader) {
		return nil, nil, fmt.Errorf("%w: missing raw header", ErrInvalidReplay)
	}
	length := int(int32(binary.BigEndian.Uint32(data[len(rawHeader):rawOffset])))
	if length <= 0 {
		// Files still being written carry a zero length until the match ends.
		return data[rawOffset:], nil, nil
	}
	end := rawOffset + length
	if end > len(data) {
		return nil, nil, fmt.Errorf("%w: raw section truncated", ErrInvalidReplay)
	}
	return data[rawOffset:end], data[end:], nil
}

func parseMetadata(rest []byte) (model.Metadata, error) {
	// rest holds the remaining key/value pairs of the top-level object, so it
	// needs its opening brace back to decode on its own.
	v, err := ubjson.Unmarshal(append([]byte{'{'}, rest...))
	if err != nil {
		return model.Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	top, ok := ubjson.Object(v)
	if !ok {
		return model.Metadata{}, nil
	}
	obj, ok := ubjson.Object(top["metadata"])
	if !ok {
		return model.Metadata{}, nil
	}

	var meta model.Metadata
	if s, ok := ubjson.String(obj["startAt"]); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			meta.StartAt = t
		}
	}
	meta.LastFrame, _ = ubjson.Int(obj["lastFrame"])
	meta.PlayedOn, _ = ubjson.String(obj["playedOn"])

	players, _ := ubjson.Object(obj["players"])
	meta.Players = make(map[int]model.PlayerMetadata, len(players))
	for key, raw := range players {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		entry, _ := ubjson.Object(raw)
		var pm model.PlayerMetadata
		if names, ok := ubjson.Object(entry["names"]); ok {
			pm.Names.Netplay, _ = ubjson.String(names["netplay"])
			pm.Names.Code, _ = ubjson.String(names["code"])
		}
		chars, _ := ubjson.Object(entry["characters"])
		pm.Characters = make(map[int]int, len(chars))
		for id, frames := range chars {
			charID, err := strconv.Atoi(id)
			if err != nil {
				continue
			}
			pm.Characters[charID], _ = ubjson.Int(frames)
		}
		meta.Players[idx] = pm
	}
	return meta, nil
}

// FileReader reads replays from disk.
type FileReader struct{}

// ReadSummary returns the summary of the replay at path.
func (FileReader) ReadSummary(path string) (model.ReplaySummary, error) {
	game, err := ReadFile(path)
	if err != nil {
		return model.ReplaySummary{}, err
	}
	return game.Summary(), nil
}

// ReadStats returns the stats of the replay at path.
func (FileReader) ReadStats(path string) (model.MatchStats, error) {
	game, err := ReadFile(path)
	if err != nil {
		return model.MatchStats{}, err
	}
	return game.Stats(), nil
}
