package session

import (
	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/slp"
)

// MatchStart is raised once the settings of a new match are known.
type MatchStart struct {
	P1Code   string
	P2Code   string
	Settings model.MatchSettings
}

// MatchEnd is raised when the stream of a match is complete.
type MatchEnd struct {
	GameEnd   model.GameEnd
	LastFrame int
}

// Decoder turns raw console bytes into match start and end signals.
type Decoder struct {
	onStart func(MatchStart)
	onEnd   func(MatchEnd)
	parser  *slp.Parser
	stream  *slp.Stream
}

// NewDecoder returns a Decoder that calls onStart and onEnd synchronously
// from Write.
func NewDecoder(onStart func(MatchStart), onEnd func(MatchEnd)) *Decoder {
	d := &Decoder{onStart: onStart, onEnd: onEnd}
	d.Reset()
	return d
}

// Write feeds raw bytes. Partial commands are kept until the next Write.
func (d *Decoder) Write(p []byte) error {
	_, err := d.stream.Write(p)
	return err
}

// Reset drops buffered bytes and the state of the current match.
func (d *Decoder) Reset() {
	d.parser = slp.NewParser()
	d.parser.OnEnd(func(end model.GameEnd) {
		d.onEnd(MatchEnd{GameEnd: end, LastFrame: d.parser.LatestFrame()})
	})
	d.stream = slp.NewStream(d.handle)
}

func (d *Decoder) handle(cmd slp.Command, payload []byte) error {
	if err := d.parser.HandleCommand(cmd, payload); err != nil {
		return err
	}
	if cmd != slp.CommandGameStart {
		return nil
	}
	settings, ok := d.parser.Settings()
	if !ok {
		return nil
	}
	p1, p2 := settings.ConnectCodes()
	d.onStart(MatchStart{P1Code: p1, P2Code: p2, Settings: settings})
	return nil
}
