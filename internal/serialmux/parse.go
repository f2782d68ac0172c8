package serialmux

import "strings"

const (
	LineTypePose    = "pose"
	LineTypeStatus  = "status"
	LineTypeComment = "comment"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects a line from the tracker bridge and returns a simple
// type token. Pose lines start with the hand letter; the bridge reports its
// own state as JSON objects.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineTypeUnknown
	case strings.HasPrefix(line, "#"):
		return LineTypeComment
	case strings.HasPrefix(line, "{"):
		return LineTypeStatus
	case strings.HasPrefix(line, "L ") || strings.HasPrefix(line, "R "):
		return LineTypePose
	}
	return LineTypeUnknown
}
