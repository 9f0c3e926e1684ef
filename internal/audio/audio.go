package audio

import "time"

const (
	SampleRate = 48000
	Channels   = 2

	// BlockDuration is the cadence the host-side monitor pulls at. The
	// engine itself accepts any frame count per render call; this is only
	// the block size cmd/cadenza and the opus encoder use.
	BlockDuration = 20 * time.Millisecond
	BlockFrames   = 960                    // frames per 20ms block at 48kHz
	BlockSamples  = BlockFrames * Channels // interleaved float32 samples per block
)

// Track identifies one of the seven fixed mix groups.
type Track int

const (
	TrackBeats Track = iota
	TrackBass
	TrackHarmony
	TrackPads
	TrackTops
	TrackMelody
	TrackFX

	NumTracks = 7
)

var trackNames = [NumTracks]string{"Beats", "Bass", "Harmony", "Pads", "Tops", "Melody", "FX"}

// Valid reports whether t is one of the seven fixed tracks.
func (t Track) Valid() bool {
	return t >= 0 && t < NumTracks
}

func (t Track) String() string {
	if !t.Valid() {
		return "Invalid"
	}
	return trackNames[t]
}

// TrackNames returns the display names for all tracks in index order.
func TrackNames() []string {
	names := make([]string, NumTracks)
	copy(names, trackNames[:])
	return names
}
