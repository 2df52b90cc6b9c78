package chat

import "time"

// StreamSpeed sets how fast a finished reply is revealed on screen. The
// backend returns whole replies; the reveal is presentation only.
type StreamSpeed int

const (
	StreamInstant StreamSpeed = iota
	StreamFast
	StreamNormal
)

const revealTick = 16 * time.Millisecond

// StreamConfig is a reveal preset.
type StreamConfig struct {
	Speed     StreamSpeed
	ChunkSize int // runes per tick; 0 reveals the whole reply at once
	TickRate  time.Duration
}

// streamPresets is in /speed cycling order.
var streamPresets = []struct {
	name string
	cfg  StreamConfig
}{
	{"normal", StreamConfig{Speed: StreamNormal, ChunkSize: 8, TickRate: revealTick}},
	{"fast", StreamConfig{Speed: StreamFast, ChunkSize: 32, TickRate: revealTick}},
	{"instant", StreamConfig{Speed: StreamInstant}},
}

func presetIndex(s StreamSpeed) int {
	for i, p := range streamPresets {
		if p.cfg.Speed == s {
			return i
		}
	}
	return 0
}

// ParseStreamSpeed maps a config value to a speed. Unknown values are normal.
func ParseStreamSpeed(s string) StreamSpeed {
	for _, p := range streamPresets {
		if p.name == s {
			return p.cfg.Speed
		}
	}
	return StreamNormal
}

func (s StreamSpeed) String() string {
	for _, p := range streamPresets {
		if p.cfg.Speed == s {
			return p.name
		}
	}
	return "unknown"
}

// DefaultStreamConfig returns the normal preset.
func DefaultStreamConfig() StreamConfig { return streamPresets[0].cfg }

// StreamConfigForSpeed returns the preset for s, or the normal one.
func StreamConfigForSpeed(s StreamSpeed) StreamConfig {
	return streamPresets[presetIndex(s)].cfg
}

// CycleStreamSpeed steps normal, fast, instant and back to normal.
func CycleStreamSpeed(current StreamSpeed) StreamSpeed {
	return streamPresets[(presetIndex(current)+1)%len(streamPresets)].cfg.Speed
}
