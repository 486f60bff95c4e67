// Package slptest builds replay data for tests.
package slptest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"

	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/slp"
	"github.com/verte-zerg/slpwatch/internal/ubjson"
)

// Payload sizes announced by every stream, excluding the command byte.
var payloadSizes = map[slp.Command]int{
	slp.CommandGameStart:    0x2f8,
	slp.CommandPreFrame:     0x3f,
	slp.CommandPostFrame:    0x50,
	slp.CommandGameEnd:      0x06,
	slp.CommandFrameStart:   0x08,
	slp.CommandFrameBookend: 0x08,
}

// Player describes one occupied port.
type Player struct {
	Index       int
	CharacterID int
	Color       int
	Stocks      int
	TeamID      int
	Type        int
	Name        string
	Code        string
	Tag         string
}

// Start is the content of a game start command.
type Start struct {
	Version [3]byte
	Mode    model.GameMode
	StageID int
	IsTeams bool
	IsPAL   bool
	Players []Player
}

// Post is the content of a post-frame update.
type Post struct {
	Frame       int
	PlayerIndex int
	IsFollower  bool
	Percent     float32
	Stocks      int
	LastHitBy   int
}

// Builder appends commands to a raw event stream.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns a Builder whose stream starts with the payload sizes.
func NewBuilder() *Builder {
	b := &Builder{}
	cmds := []slp.Command{
		slp.CommandGameStart, slp.CommandPreFrame, slp.CommandPostFrame,
		slp.CommandGameEnd, slp.CommandFrameStart, slp.CommandFrameBookend,
	}
	b.buf.WriteByte(byte(slp.CommandEventPayloads))
	b.buf.WriteByte(byte(len(cmds)*3 + 1))
	for _, cmd := range cmds {
		b.buf.WriteByte(byte(cmd))
		_ = binary.Write(&b.buf, binary.BigEndian, uint16(payloadSizes[cmd]))
	}
	return b
}

func (b *Builder) command(cmd slp.Command) []byte {
	p := make([]byte, payloadSizes[cmd]+1)
	p[0] = byte(cmd)
	return p
}

// GameStart appends a game start command. Ports not listed are empty.
func (b *Builder) GameStart(s Start) *Builder {
	p := b.command(slp.CommandGameStart)
	version := s.Version
	if version == [3]byte{} {
		version = [3]byte{3, 14, 0}
	}
	copy(p[0x1:], version[:])
	p[0xd] = boolByte(s.IsTeams)
	binary.BigEndian.PutUint16(p[0x13:], uint16(s.StageID))
	for i := 0; i < 4; i++ {
		p[0x65+i*0x24+0x1] = model.PlayerTypeEmpty
	}
	for _, pl := range s.Players {
		off := 0x65 + pl.Index*0x24
		p[off] = byte(pl.CharacterID)
		p[off+0x1] = byte(pl.Type)
		p[off+0x2] = byte(pl.Stocks)
		p[off+0x3] = byte(pl.Color)
		p[off+0x9] = byte(pl.TeamID)
		copy(p[0x161+pl.Index*0x10:0x161+(pl.Index+1)*0x10], EncodeText(pl.Tag))
		copy(p[0x1a5+pl.Index*0x1f:0x1a5+(pl.Index+1)*0x1f], EncodeText(pl.Name))
		copy(p[0x221+pl.Index*0xa:0x221+(pl.Index+1)*0xa], EncodeText(pl.Code))
	}
	p[0x1a1] = boolByte(s.IsPAL)
	p[0x1a4] = byte(s.Mode)
	b.buf.Write(p)
	return b
}

// FrameStart appends a frame start command.
func (b *Builder) FrameStart(frame int) *Builder {
	p := b.command(slp.CommandFrameStart)
	binary.BigEndian.PutUint32(p[0x1:], uint32(int32(frame)))
	b.buf.Write(p)
	return b
}

// PostFrame appends a post-frame update.
func (b *Builder) PostFrame(post Post) *Builder {
	p := b.command(slp.CommandPostFrame)
	binary.BigEndian.PutUint32(p[0x1:], uint32(int32(post.Frame)))
	p[0x5] = byte(post.PlayerIndex)
	p[0x6] = boolByte(post.IsFollower)
	binary.BigEndian.PutUint32(p[0x16:], math.Float32bits(post.Percent))
	p[0x20] = byte(post.LastHitBy)
	p[0x21] = byte(post.Stocks)
	b.buf.Write(p)
	return b
}

// GameEnd appends a game end command. placements holds the position of each
// port; lras is -1 when nobody quit out.
func (b *Builder) GameEnd(method model.GameEndMethod, lras int, placements [4]int) *Builder {
	p := b.command(slp.CommandGameEnd)
	p[0x1] = byte(method)
	p[0x2] = byte(int8(lras))
	for i, pos := range placements {
		p[0x3+i] = byte(int8(pos))
	}
	b.buf.Write(p)
	return b
}

// Bytes returns the raw event stream built so far.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// EncodeText encodes s the way names are stored in a game start command.
func EncodeText(s string) []byte {
	s = strings.ReplaceAll(s, "#", "＃")
	out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// MetaPlayer is one player entry of replay metadata.
type MetaPlayer struct {
	Name       string
	Code       string
	Characters map[int]int
}

// Meta is the metadata block of a finished replay.
type Meta struct {
	StartAt   time.Time
	LastFrame int
	PlayedOn  string
	Players   map[int]MetaPlayer
}

func (m Meta) value() map[string]any {
	players := map[string]any{}
	for idx, p := range m.Players {
		chars := map[string]any{}
		for id, frames := range p.Characters {
			chars[strconv.Itoa(id)] = frames
		}
		players[strconv.Itoa(idx)] = map[string]any{
			"names":      map[string]any{"netplay": p.Name, "code": p.Code},
			"characters": chars,
		}
	}
	return map[string]any{
		"startAt":   m.StartAt.UTC().Format(time.RFC3339),
		"lastFrame": m.LastFrame,
		"playedOn":  m.PlayedOn,
		"players":   players,
	}
}

// File wraps raw events and metadata into replay file contents. A nil meta
// produces an in-progress file with a zero raw length.
func File(raw []byte, meta *Meta) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'{', 'U', 3, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'})
	if meta == nil {
		_ = binary.Write(&buf, binary.BigEndian, int32(0))
		buf.Write(raw)
		return buf.Bytes()
	}
	_ = binary.Write(&buf, binary.BigEndian, int32(len(raw)))
	buf.Write(raw)
	encoded, err := ubjson.Marshal(map[string]any{"metadata": meta.value()})
	if err != nil {
		panic(err)
	}
	// Drop the opening brace: the metadata continues the top-level object.
	buf.Write(encoded[1:])
	return buf.Bytes()
}

// WriteFile writes data to path, failing the test on error.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write replay: %v", err)
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
