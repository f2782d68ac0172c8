package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/timeutil"
)

// ChannelSource yields samples sent on a channel. Closing the channel ends
// the source.
type ChannelSource <-chan pose.Sample

// Next implements Source.
func (c ChannelSource) Next(ctx context.Context) (pose.Sample, error) {
	select {
	case <-ctx.Done():
		return pose.Sample{}, ctx.Err()
	case s, ok := <-c:
		if !ok {
			return pose.Sample{}, io.EOF
		}
		return s, nil
	}
}

type scriptStep struct {
	offset time.Duration
	sample pose.Sample
}

// ScriptSource replays a recorded session. Each line of the script is a
// millisecond offset from the start followed by a pose line:
//
//	0   R 1 1 0 0 0 0 1 0 0 0 0 1 0 0.1 0.2 0.3 1
//	40  L 0
//
// Blank lines and lines starting with # are ignored.
type ScriptSource struct {
	steps []scriptStep
	loop  bool
	clock timeutil.Clock

	next    int
	started time.Time
	base    time.Duration
}

// LoadScript reads a script file. With loop set the script restarts after
// its last step instead of ending. A nil clock uses the real clock.
func LoadScript(path string, loop bool, clock timeutil.Clock) (*ScriptSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f, loop, clock)
}

// ParseScript reads a script from r.
func ParseScript(r io.Reader, loop bool, clock timeutil.Clock) (*ScriptSource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var steps []scriptStep
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		offsetText, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("script line %d: missing pose", lineNo)
		}
		ms, err := strconv.ParseInt(offsetText, 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("script line %d: bad offset %q", lineNo, offsetText)
		}
		s, err := ParseLine(rest)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", lineNo, err)
		}
		offset := time.Duration(ms) * time.Millisecond
		if n := len(steps); n > 0 && offset < steps[n-1].offset {
			return nil, fmt.Errorf("script line %d: offsets must not decrease", lineNo)
		}
		steps = append(steps, scriptStep{offset: offset, sample: s})
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}
	return &ScriptSource{steps: steps, loop: loop, clock: clock}, nil
}

// Len returns the number of steps in one pass.
func (s *ScriptSource) Len() int { return len(s.steps) }

// Next waits until the next step is due and returns its sample stamped with
// the current time.
func (s *ScriptSource) Next(ctx context.Context) (pose.Sample, error) {
	if s.started.IsZero() {
		s.started = s.clock.Now()
	}
	if s.next == len(s.steps) {
		if !s.loop {
			return pose.Sample{}, io.EOF
		}
		// Restart one interval after the last step.
		s.base += s.steps[len(s.steps)-1].offset + time.Millisecond
		s.next = 0
	}

	step := s.steps[s.next]
	due := s.started.Add(s.base + step.offset)
	if wait := due.Sub(s.clock.Now()); wait > 0 {
		select {
		case <-ctx.Done():
			return pose.Sample{}, ctx.Err()
		case <-s.clock.After(wait):
		}
	}
	s.next++

	sample := step.sample
	sample.CapturedAt = s.clock.Now()
	return sample, nil
}
