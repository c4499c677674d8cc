package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/samber/lo"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

// dataAPIFetcher reads snippet and duration from the YouTube Data API.
type dataAPIFetcher struct {
	service *ytapi.Service
}

func newDataAPIFetcher(ctx context.Context, apiKey, endpoint string) (*dataAPIFetcher, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &dataAPIFetcher{service: service}, nil
}

func (f *dataAPIFetcher) name() string { return "data-api" }

func (f *dataAPIFetcher) fetch(ctx context.Context, videoID, _ string) (*Metadata, error) {
	resp, err := f.service.Videos.List([]string{"snippet", "contentDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	item := resp.Items[0]
	meta := &Metadata{}
	if item.Snippet != nil {
		meta.Title = item.Snippet.Title
		meta.Uploader = item.Snippet.ChannelTitle
		if t := item.Snippet.Thumbnails; t != nil && t.High != nil {
			meta.ThumbnailURL = t.High.Url
		}
	}
	if item.ContentDetails != nil {
		meta.Duration = parseISODuration(item.ContentDetails.Duration)
	}
	return meta, nil
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration converts an ISO 8601 duration such as PT1H2M3S to
// seconds. Unparseable input yields 0.
func parseISODuration(s string) int {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	units := []int{86400, 3600, 60, 1}
	total := 0
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		total += n * unit
	}
	return total
}

// kkdaiClient talks to YouTube directly without any external binary.
type kkdaiClient struct {
	client *youtube.Client
}

func newKkdaiClient() *kkdaiClient {
	return &kkdaiClient{client: &youtube.Client{}}
}

func (c *kkdaiClient) name() string { return "kkdai" }

func (c *kkdaiClient) fetch(ctx context.Context, videoID, _ string) (*Metadata, error) {
	video, err := c.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, err
	}
	meta := &Metadata{
		Title:    video.Title,
		Uploader: video.Author,
		Duration: int(video.Duration.Seconds()),
	}
	if len(video.Thumbnails) > 0 {
		best := lo.MaxBy(video.Thumbnails, func(a, b youtube.Thumbnail) bool { return a.Width > b.Width })
		meta.ThumbnailURL = best.URL
	}
	return meta, nil
}

func (c *kkdaiClient) download(ctx context.Context, rawURL, destBase string, progress ProgressFunc) (string, error) {
	video, err := c.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return "", err
	}

	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		formats = video.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return "", errors.New("no audio formats found for video")
	}
	format := lo.MaxBy(formats, func(a, b youtube.Format) bool { return a.Bitrate > b.Bitrate })

	stream, size, err := c.client.GetStreamContext(ctx, video, &format)
	if err != nil {
		return "", fmt.Errorf("get stream error: %w", err)
	}
	defer stream.Close()

	path := destBase + "." + extensionForMime(format.MimeType)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	w := &progressWriter{total: size, progress: progress}
	_, copyErr := io.Copy(io.MultiWriter(out, w), stream)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	return path, nil
}

func extensionForMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "audio/webm"):
		return "webm"
	case strings.HasPrefix(mime, "audio/mp4"):
		return "m4a"
	case strings.HasPrefix(mime, "video/mp4"):
		return "mp4"
	case strings.HasPrefix(mime, "video/webm"):
		return "webm"
	default:
		return "audio"
	}
}

// progressWriter reports download progress in 5% steps.
type progressWriter struct {
	total    int64
	written  int64
	step     int64
	progress ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total <= 0 {
		return len(p), nil
	}
	step := min(w.written*20/w.total, 20)
	if step > w.step {
		w.step = step
		w.progress.Report(StageDownload, "Downloading audio", float64(step)/20)
	}
	return len(p), nil
}

// ytdlpClient shells out to yt-dlp for videos the other clients cannot read.
type ytdlpClient struct {
	quality string
}

func (c *ytdlpClient) name() string { return "yt-dlp" }

func (c *ytdlpClient) fetch(ctx context.Context, _, rawURL string) (*Metadata, error) {
	res, err := ytdlp.New().
		Print("%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", rawURL)
	if err != nil {
		return nil, ytdlpError(res, err)
	}
	return parseYtdlpMetadata(res.Stdout)
}

func parseYtdlpMetadata(stdout string) (*Metadata, error) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		meta := &Metadata{Title: parts[0], Uploader: parts[1]}
		if d, err := strconv.ParseFloat(parts[2], 64); err == nil {
			meta.Duration = int(d)
		}
		if parts[3] != "NA" {
			meta.ThumbnailURL = parts[3]
		}
		return meta, nil
	}
	return nil, errors.New("failed to parse yt-dlp metadata")
}

func (c *ytdlpClient) download(ctx context.Context, rawURL, destBase string, progress ProgressFunc) (string, error) {
	progress.Report(StageDownload, "Downloading audio with yt-dlp", 0.1)
	res, err := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(c.quality).
		NoWarnings().
		IgnoreConfig().
		Output(destBase+".%(ext)s").
		Run(ctx, rawURL)
	if err != nil {
		_ = removeIfExists(destBase + ".mp3")
		return "", ytdlpError(res, err)
	}
	progress.Report(StageDownload, "Downloading audio", 1)
	return destBase + ".mp3", nil
}

func ytdlpError(res *ytdlp.Result, err error) error {
	if res == nil || strings.TrimSpace(res.Stderr) == "" {
		return err
	}
	stderr := strings.TrimSpace(res.Stderr)
	if len(stderr) > 300 {
		stderr = stderr[len(stderr)-300:]
	}
	return fmt.Errorf("%w: %s", err, stderr)
}
