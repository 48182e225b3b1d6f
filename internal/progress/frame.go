package progress

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
)

// Frame is the JSON record sent to WebSocket watchers.
type Frame struct {
	Progress int    `json:"progress"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// FrameFromEvent renders e for the wire.
func FrameFromEvent(e Event) Frame {
	return Frame{
		Progress: e.Percent,
		Filename: e.Filename,
		Status:   string(e.Status),
		Error:    e.Reason,
	}
}

// Terminal reports whether the frame ends the stream.
func (f Frame) Terminal() bool {
	return Status(f.Status).Terminal()
}

var firstNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ErrNoProgress is returned by ParseFrame when the payload carries no
// usable progress value.
var ErrNoProgress = errors.New("no progress value in frame")

// ParseFrame decodes a frame. Payloads that are not valid JSON still yield
// a frame when they contain a number, which is taken as the progress.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err == nil {
		return f, nil
	}
	m := firstNumber.Find(data)
	if m == nil {
		return Frame{}, ErrNoProgress
	}
	v, err := strconv.ParseFloat(string(m), 64)
	if err != nil {
		return Frame{}, ErrNoProgress
	}
	return Frame{Progress: int(v)}, nil
}
