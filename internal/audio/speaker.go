package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"pillhelper/internal/ports"
)

// Speaker drives an espeak-compatible speech command. It serves as the
// on-device engine when no device bridge is configured, and as the OS speech
// queue that is cancelled on every stop.
type Speaker struct {
	command string
	proc    process
}

func NewSpeaker(command string) *Speaker {
	if command == "" {
		command = "espeak-ng"
	}
	return &Speaker{command: command}
}

// SupportedLanguages lists the language column of "<command> --voices".
func (s *Speaker) SupportedLanguages(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, s.command, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	return parseVoiceList(out), nil
}

func (s *Speaker) IsLanguageSupported(ctx context.Context, tag string) (bool, error) {
	langs, err := s.SupportedLanguages(ctx)
	if err != nil {
		return false, err
	}
	want := normalizeTag(tag)
	for _, lang := range langs {
		if normalizeTag(lang) == want {
			return true, nil
		}
	}
	return false, nil
}

// Speak blocks until the utterance finishes or is stopped.
func (s *Speaker) Speak(ctx context.Context, req ports.SpeakRequest) error {
	return s.proc.run(ctx, nil, s.command, speakArgs(req)...)
}

func (s *Speaker) Stop(_ context.Context) error {
	return s.proc.stop()
}

// Cancel flushes any queued system speech.
func (s *Speaker) Cancel() error {
	return s.proc.stop()
}

func speakArgs(req ports.SpeakRequest) []string {
	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	pitch := req.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	volume := req.Volume
	if volume <= 0 {
		volume = 1
	}

	args := []string{
		"-s", strconv.Itoa(clamp(int(math.Round(175*rate)), 80, 450)),
		"-p", strconv.Itoa(clamp(int(math.Round(50*pitch)), 0, 99)),
		"-a", strconv.Itoa(clamp(int(math.Round(100*volume)), 0, 200)),
	}
	if req.Lang != "" {
		args = append(args, "-v", normalizeTag(req.Lang))
	}
	return append(args, "--", req.Text)
}

func parseVoiceList(out []byte) []string {
	var langs []string
	seen := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if header {
			header = false
			if len(fields) > 1 && strings.EqualFold(fields[0], "Pty") {
				continue
			}
		}
		if len(fields) < 2 || seen[fields[1]] {
			continue
		}
		seen[fields[1]] = true
		langs = append(langs, fields[1])
	}
	return langs
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
