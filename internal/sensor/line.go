package sensor

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/serialmux"
	"github.com/banshee-data/colocate/internal/timeutil"
)

// ParseLine parses one tracker bridge pose line:
//
//	<L|R> <0|1> [16 floats, column-major]
//
// An untracked line may omit the floats. CapturedAt is left zero.
func ParseLine(line string) (pose.Sample, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return pose.Sample{}, fmt.Errorf("pose line needs a hand and a tracked flag: %q", line)
	}

	hand, err := pose.ParseChirality(fields[0])
	if err != nil {
		return pose.Sample{}, err
	}
	s := pose.Sample{Hand: hand}

	switch fields[1] {
	case "1":
		s.Tracked = true
	case "0":
		if len(fields) == 2 {
			return s, nil
		}
	default:
		return pose.Sample{}, fmt.Errorf("tracked flag must be 0 or 1, got %q", fields[1])
	}

	values := fields[2:]
	if len(values) != len(s.Transform) {
		return pose.Sample{}, fmt.Errorf("pose line has %d values, want %d", len(values), len(s.Transform))
	}
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return pose.Sample{}, fmt.Errorf("value %d: %w", i, err)
		}
		s.Transform[i] = float32(f)
	}
	if !s.Transform.IsFinite() {
		return pose.Sample{}, fmt.Errorf("pose line has non-finite values")
	}
	return s, nil
}

// FormatLine renders s in the bridge line format.
func FormatLine(s pose.Sample) string {
	var b strings.Builder
	if s.Hand == pose.Left {
		b.WriteString("L ")
	} else {
		b.WriteString("R ")
	}
	if !s.Tracked {
		b.WriteString("0")
		return b.String()
	}
	b.WriteString("1")
	for _, v := range s.Transform {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return b.String()
}

// LineSource reads pose lines from the tracker bridge serial mux. Status,
// comment and malformed lines are skipped.
type LineSource struct {
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock
	id    string
	lines chan string
}

// NewLineSource subscribes to mux. Call Close to unsubscribe.
func NewLineSource(mux serialmux.SerialMuxInterface, clock timeutil.Clock) *LineSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, lines := mux.Subscribe()
	return &LineSource{mux: mux, clock: clock, id: id, lines: lines}
}

// Next returns the next pose sample, stamped on arrival.
func (l *LineSource) Next(ctx context.Context) (pose.Sample, error) {
	for {
		select {
		case <-ctx.Done():
			return pose.Sample{}, ctx.Err()
		case line, ok := <-l.lines:
			if !ok {
				return pose.Sample{}, io.EOF
			}
			switch serialmux.ClassifyLine(line) {
			case serialmux.LineTypePose:
			case serialmux.LineTypeStatus:
				logf("bridge status: %s", line)
				continue
			default:
				continue
			}
			s, err := ParseLine(line)
			if err != nil {
				logf("skipping line: %v", err)
				continue
			}
			s.CapturedAt = l.clock.Now()
			return s, nil
		}
	}
}

// Close unsubscribes from the mux.
func (l *LineSource) Close() {
	l.mux.Unsubscribe(l.id)
}
