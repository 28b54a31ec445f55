package playback

import (
	"fmt"
	"strconv"

	"github.com/rendis/authflow/pkg/schema"
)

// AllowedSpeeds is the fixed set of playback multipliers offered to users.
var AllowedSpeeds = []float64{0.5, 1, 1.5}

// ParseSpeed parses user input such as "1.5" or "1.5x" and checks it against AllowedSpeeds.
func ParseSpeed(raw string) (float64, error) {
	trimmed := raw
	if n := len(trimmed); n > 0 && (trimmed[n-1] == 'x' || trimmed[n-1] == 'X') {
		trimmed = trimmed[:n-1]
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidCommand, "invalid speed %q", raw).WithCause(err)
	}
	if err := CheckSpeed(v); err != nil {
		return 0, err
	}
	return v, nil
}

// CheckSpeed returns an INVALID_COMMAND error unless v is one of AllowedSpeeds.
func CheckSpeed(v float64) error {
	for _, allowed := range AllowedSpeeds {
		if v == allowed {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidCommand, "speed %v not allowed (use one of %v)", v, AllowedSpeeds)
}

// CommandName identifies a scheduler operation for transports that carry
// commands as data (MCP tools, HTTP API, recorded traces).
type CommandName string

const (
	CmdPlay        CommandName = "play"
	CmdPause       CommandName = "pause"
	CmdReset       CommandName = "reset"
	CmdSeek        CommandName = "seek"
	CmdSeekStep    CommandName = "seek_step"
	CmdNext        CommandName = "next"
	CmdPrevious    CommandName = "previous"
	CmdAutoAdvance CommandName = "auto_advance"
	CmdSpeed       CommandName = "speed"
	CmdTick        CommandName = "tick"
)

// CommandNames lists every command in a stable order.
var CommandNames = []CommandName{
	CmdPlay, CmdPause, CmdReset, CmdSeek, CmdSeekStep,
	CmdNext, CmdPrevious, CmdAutoAdvance, CmdSpeed, CmdTick,
}

// Command is a scheduler operation plus its argument. Only the field matching
// Name is read.
type Command struct {
	Name     CommandName `json:"name"`
	Progress float64     `json:"progress,omitempty"` // seek
	Index    int         `json:"index,omitempty"`    // seek_step
	Enabled  bool        `json:"enabled,omitempty"`  // auto_advance
	Speed    float64     `json:"speed,omitempty"`    // speed
	DeltaMs  float64     `json:"delta_ms,omitempty"` // tick
}

// Apply runs cmd against the scheduler. Unknown commands and speeds outside
// AllowedSpeeds are rejected with INVALID_COMMAND and leave state untouched.
func (s *Scheduler) Apply(cmd Command) error {
	switch cmd.Name {
	case CmdPlay:
		s.Play()
	case CmdPause:
		s.Pause()
	case CmdReset:
		s.Reset()
	case CmdSeek:
		s.Seek(cmd.Progress)
	case CmdSeekStep:
		s.SeekEvent(cmd.Index)
	case CmdNext:
		s.NextEvent()
	case CmdPrevious:
		s.PreviousEvent()
	case CmdAutoAdvance:
		s.SetAutoAdvance(cmd.Enabled)
	case CmdSpeed:
		if err := CheckSpeed(cmd.Speed); err != nil {
			return err
		}
		s.SetSpeed(cmd.Speed)
	case CmdTick:
		s.Tick(cmd.DeltaMs)
	default:
		return schema.NewErrorf(schema.ErrCodeInvalidCommand, "unknown command %q", cmd.Name).
			WithDetails(map[string]any{"allowed": fmt.Sprint(CommandNames)})
	}
	return nil
}
