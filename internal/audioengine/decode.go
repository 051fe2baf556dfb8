package audioengine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"

	"meditationplayer/internal/errs"
)

// SampleRate is the engine's fixed internal mix/output rate. All decoded
// sources are resampled to this rate at load/preload time; see spec §6 and
// DESIGN.md open question (ii).
const SampleRate beep.SampleRate = 44100

// NumChannels is the engine's fixed output channel count (stereo).
const NumChannels = 2

// Decode opens and decodes a track by file extension, returning a
// seekable/closeable stream at the file's native sample rate together with
// its format; callers wrap it with ResampleToEngineRate. Supported
// extensions: .ogg (vorbis), .wav (PCM). Any other extension surfaces
// invalid-format.
func Decode(locator string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(locator)
	if err != nil {
		return nil, beep.Format{}, errs.Wrap(errs.FileLoad, "could not open "+locator, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		decErr   error
	)

	switch strings.ToLower(filepath.Ext(locator)) {
	case ".ogg":
		streamer, format, decErr = vorbis.Decode(f)
	case ".wav":
		streamer, format, decErr = wav.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, errs.New(errs.InvalidFormat, "unsupported audio format: "+locator)
	}

	if decErr != nil {
		f.Close()
		return nil, beep.Format{}, errs.Wrap(errs.FileLoad, "decode failed for "+locator, decErr)
	}

	return streamer, format, nil
}

// ResampleToEngineRate wraps s in a resampler if its native rate differs
// from SampleRate, matching music_player.go's resampling behavior.
func ResampleToEngineRate(s beep.Streamer, native beep.SampleRate) beep.Streamer {
	if native == SampleRate {
		return s
	}
	return beep.Resample(4, native, SampleRate, s)
}
