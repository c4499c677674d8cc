package source

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// probeResult is what could be learned from the head of an audio file.
// Zero values mean unknown.
type probeResult struct {
	Duration time.Duration
	Title    string
	Artist   string
}

// maxProbeFrames bounds how many MP3 frames are decoded to estimate bitrate.
const maxProbeFrames = 64

// probeAudio inspects the first bytes of a file. fileSize is the full size
// of the remote file and is used to extrapolate duration from a prefix.
func probeAudio(head []byte, format string, fileSize int64) probeResult {
	var res probeResult

	if m, err := tag.ReadFrom(bytes.NewReader(head)); err == nil {
		res.Title = strings.TrimSpace(m.Title())
		res.Artist = strings.TrimSpace(m.Artist())
	}

	switch format {
	case "mp3":
		res.Duration = probeMP3(head, fileSize)
	case "flac":
		res.Duration = probeFLAC(head)
	case "wav":
		res.Duration = probeWAV(head, fileSize)
	}
	return res
}

func probeMP3(head []byte, fileSize int64) time.Duration {
	dec := mp3.NewDecoder(bytes.NewReader(head))

	var (
		frame    mp3.Frame
		skipped  int
		frames   int
		audio    int64
		duration time.Duration
	)
	for frames < maxProbeFrames {
		if err := dec.Decode(&frame, &skipped); err != nil {
			break
		}
		frames++
		audio += int64(frame.Size())
		duration += frame.Duration()
	}
	if frames == 0 || audio == 0 || duration <= 0 {
		return 0
	}

	if fileSize <= 0 {
		fileSize = int64(len(head))
	}
	bytesPerSecond := float64(audio) / duration.Seconds()
	return time.Duration(float64(fileSize) / bytesPerSecond * float64(time.Second))
}

func probeFLAC(head []byte) time.Duration {
	stream, err := flac.New(bytes.NewReader(head))
	if err != nil {
		return 0
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 || info.NSamples == 0 {
		return 0
	}
	return time.Duration(float64(info.NSamples) / float64(info.SampleRate) * float64(time.Second))
}

const wavHeaderSize = 44

func probeWAV(head []byte, fileSize int64) time.Duration {
	dec := wav.NewDecoder(bytes.NewReader(head))
	if !dec.IsValidFile() {
		return 0
	}

	bytesPerSecond := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSecond == 0 {
		return 0
	}
	if fileSize <= 0 {
		fileSize = int64(len(head))
	}
	data := fileSize - wavHeaderSize
	if data <= 0 {
		return 0
	}
	return time.Duration(float64(data) / float64(bytesPerSecond) * float64(time.Second))
}

// readPrefix reads at most n bytes.
func readPrefix(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}
