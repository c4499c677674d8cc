package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"songbird/pkg/logger"

	"github.com/tcolgate/mp3"
)

const wavSeconds = 10

// wavHeader builds a canonical 16-bit stereo 44.1kHz PCM header.
func wavHeader(dataSize uint32) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+dataSize))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))      // PCM
	binary.Write(&b, binary.LittleEndian, uint16(2))      // channels
	binary.Write(&b, binary.LittleEndian, uint32(44100))  // sample rate
	binary.Write(&b, binary.LittleEndian, uint32(176400)) // byte rate
	binary.Write(&b, binary.LittleEndian, uint16(4))      // block align
	binary.Write(&b, binary.LittleEndian, uint16(16))     // bits per sample
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, dataSize)
	return b.Bytes()
}

type catboxServer struct {
	*httptest.Server
	size int64
	head []byte

	mu        sync.Mutex
	gets      int
	lastRange string
}

func (cs *catboxServer) stats() (int, string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.gets, cs.lastRange
}

func newCatboxServer(t *testing.T) *catboxServer {
	t.Helper()
	dataSize := uint32(176400 * wavSeconds)
	head := append(wavHeader(dataSize), make([]byte, 4096)...)
	cs := &catboxServer{size: int64(44 + dataSize), head: head}

	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/song.wav") {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Content-Length", strconv.FormatInt(cs.size, 10))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			cs.mu.Lock()
			cs.gets++
			cs.lastRange = r.Header.Get("Range")
			cs.mu.Unlock()
			w.Header().Set("Content-Length", strconv.Itoa(len(cs.head)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(cs.head)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *catboxServer) host() string {
	return strings.TrimPrefix(cs.URL, "http://")
}

func newTestCatbox(host string, probe bool) *CatboxResolver {
	return NewCatboxResolver(CatboxConfig{Host: host, Timeout: time.Second, ProbeMetadata: probe, ProbeBytes: 1024},
		nil, logger.Nop())
}

func TestCatboxIsSupported(t *testing.T) {
	r := NewCatboxResolver(CatboxConfig{}, nil, logger.Nop())
	tests := []struct {
		url  string
		want bool
	}{
		{"https://files.catbox.moe/abc123.mp3", true},
		{"https://files.catbox.moe/abc123.FLAC", true},
		{"http://files.catbox.moe/x.opus", true},
		{"https://files.catbox.moe/abc123.wma", true},
		{"https://files.catbox.moe/abc123.txt", false},
		{"https://files.catbox.moe/abc123", false},
		{"https://files.catbox.moe/.mp3", false},
		{"https://catbox.moe/abc123.mp3", false},
		{"https://example.com/abc123.mp3", false},
		{"ftp://files.catbox.moe/abc123.mp3", false},
		{"https://www.youtube.com/watch?v=abc", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		if got := r.IsSupported(tt.url); got != tt.want {
			t.Errorf("IsSupported(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestCatboxResolveWithoutProbe(t *testing.T) {
	cs := newCatboxServer(t)
	r := newTestCatbox(cs.host(), false)

	meta, err := r.Resolve(context.Background(), cs.URL+"/song.wav")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "Catbox - song" || meta.Uploader != "Catbox" || meta.Kind != KindCatbox {
		t.Errorf("meta = %+v", meta)
	}
	if meta.FileSize != cs.size || meta.Format != "wav" || meta.Duration != 0 {
		t.Errorf("meta = %+v", meta)
	}
	if gets, _ := cs.stats(); gets != 0 {
		t.Error("probe disabled but GET was issued")
	}
}

func TestCatboxResolveProbesDuration(t *testing.T) {
	cs := newCatboxServer(t)
	r := newTestCatbox(cs.host(), true)

	meta, err := r.Resolve(context.Background(), cs.URL+"/song.wav")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Duration != wavSeconds {
		t.Errorf("duration = %d, want %d", meta.Duration, wavSeconds)
	}
	if _, rng := cs.stats(); rng != "bytes=0-1023" {
		t.Errorf("range = %q", rng)
	}
}

func TestCatboxResolveNotFound(t *testing.T) {
	cs := newCatboxServer(t)
	r := newTestCatbox(cs.host(), false)

	_, err := r.Resolve(context.Background(), cs.URL+"/missing.mp3")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("err = %v", err)
	}
}

func TestCatboxMaterialize(t *testing.T) {
	cs := newCatboxServer(t)
	r := newTestCatbox(cs.host(), false)

	var (
		fractions []float64
		last      string
	)
	h, err := r.Materialize(context.Background(), cs.URL+"/song.wav", nil, func(_, msg string, f float64) {
		fractions = append(fractions, f)
		last = msg
	})
	if err != nil {
		t.Fatal(err)
	}
	if !h.Streaming || h.Source != cs.URL+"/song.wav" {
		t.Errorf("handle = %+v", h)
	}
	if len(fractions) != 3 || fractions[0] != 0.25 || fractions[1] != 0.75 || fractions[2] != 1 {
		t.Errorf("fractions = %v", fractions)
	}
	if last != "Catbox audio file validated: Catbox - song (1.7 MB)" {
		t.Errorf("last message = %q", last)
	}
	if err := h.Cleanup(); err != nil {
		t.Errorf("cleanup = %v", err)
	}
}

func TestCatboxMaterializeReusesKnownMetadata(t *testing.T) {
	cs := newCatboxServer(t)
	r := newTestCatbox(cs.host(), true)

	known := &Metadata{Title: "Tagged Title", Uploader: "Tagged Artist", Duration: wavSeconds, Kind: KindCatbox, Format: "wav"}
	h, err := r.Materialize(context.Background(), cs.URL+"/song.wav", known, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gets, _ := cs.stats(); gets != 0 {
		t.Errorf("ranged GETs = %d, want 0 when metadata is known", gets)
	}
	if h.Metadata.Title != "Tagged Title" || h.Metadata.Uploader != "Tagged Artist" || h.Metadata.FileSize != cs.size {
		t.Errorf("metadata = %+v", h.Metadata)
	}
	if known.FileSize != 0 {
		t.Error("known metadata was modified")
	}

	if _, err := r.Materialize(context.Background(), cs.URL+"/gone.mp3", known, nil); err == nil {
		t.Error("expected existence check to fail for a missing file")
	}
}

func TestCatboxMaterializeRejectsUnsupported(t *testing.T) {
	r := newTestCatbox("files.catbox.moe", false)
	if _, err := r.Materialize(context.Background(), "https://files.catbox.moe/a.txt", nil, nil); err == nil {
		t.Error("expected error")
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		0:          "Unknown size",
		512:        "512 B",
		2048:       "2.0 KB",
		5 << 20:    "5.0 MB",
		1536 << 10: "1.5 MB",
		3 << 30:    "3.0 GB",
	}
	for in, want := range tests {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}

// bitWriter packs big-endian bit fields.
type bitWriter struct {
	buf   []byte
	nbits int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbits%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 1 << uint(7-w.nbits%8)
		}
		w.nbits++
	}
}

func flacHeader(sampleRate, samples uint64) []byte {
	var w bitWriter
	w.write(4096, 16) // min block size
	w.write(4096, 16) // max block size
	w.write(0, 24)    // min frame size
	w.write(0, 24)    // max frame size
	w.write(sampleRate, 20)
	w.write(1, 3)  // channels - 1
	w.write(15, 5) // bits per sample - 1
	w.write(samples, 36)
	w.write(0, 64) // md5
	w.write(0, 64)

	out := []byte("fLaC")
	out = append(out, 0x80, 0, 0, byte(len(w.buf)))
	return append(out, w.buf...)
}

func TestProbeFLAC(t *testing.T) {
	head := flacHeader(44100, 44100*180)
	if got := probeFLAC(head); got != 180*time.Second {
		t.Errorf("probeFLAC = %v, want 3m0s", got)
	}
	if got := probeFLAC([]byte("not flac")); got != 0 {
		t.Errorf("garbage = %v", got)
	}
}

func TestProbeAudioUnknownFormat(t *testing.T) {
	res := probeAudio([]byte("garbage"), "ogg", 1000)
	if res.Duration != 0 || res.Title != "" || res.Artist != "" {
		t.Errorf("res = %+v", res)
	}
	if got := probeMP3([]byte("garbage"), 1000); got != 0 {
		t.Errorf("probeMP3 = %v", got)
	}
}

func TestProbeMP3ExtrapolatesFromPrefix(t *testing.T) {
	head := bytes.Repeat(mp3.SilentBytes, 100)
	fileSize := int64(len(mp3.SilentBytes)) * 1000

	want := time.Duration(float64(fileSize) / float64(mp3.SilentFrame.Size()) * float64(mp3.SilentFrame.Duration()))
	got := probeMP3(head, fileSize)
	if diff := got - want; diff < -50*time.Millisecond || diff > 50*time.Millisecond {
		t.Errorf("probeMP3 = %v, want about %v", got, want)
	}
}
