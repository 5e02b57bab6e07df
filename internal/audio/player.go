package audio

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
)

// Player plays encoded audio by piping it into an external player command.
// It is the single shared playback element: a new Play stops the previous one.
type Player struct {
	command string
	args    []string
	proc    process
}

func NewPlayer(command string) *Player {
	if command == "" {
		command = "ffplay"
	}
	return &Player{command: command, args: playerArgs(command)}
}

func playerArgs(command string) []string {
	switch filepath.Base(command) {
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "-"}
	case "mpg123":
		return []string{"-q", "-"}
	case "mpv":
		return []string{"--no-video", "--really-quiet", "-"}
	default:
		return []string{"-"}
	}
}

// Play blocks until the audio finishes, Stop is called, or ctx is done.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return errors.New("no audio to play")
	}
	return p.proc.run(ctx, bytes.NewReader(audio), p.command, p.args...)
}

// Stop pauses and clears the player. Safe to call when nothing is playing.
func (p *Player) Stop() error {
	return p.proc.stop()
}
