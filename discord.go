package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"songbird/internal/boterr"
	"songbird/internal/services/display"
	"songbird/internal/services/source"
	"songbird/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// findVoiceChannel returns the voice channel the user is in. Stage channels
// are refused.
func findVoiceChannel(s *discordgo.Session, guildID, userID string) (string, error) {
	notInVoice := boterr.NewValidationError("You need to be in a voice channel first.", nil)
	if s == nil || s.State == nil {
		return "", notInVoice
	}

	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", notInVoice
	}

	ch, err := s.State.Channel(vs.ChannelID)
	if err != nil {
		ch, err = s.Channel(vs.ChannelID)
	}
	if err == nil && ch.Type == discordgo.ChannelTypeGuildStageVoice {
		return "", boterr.NewValidationError("I can't play music in stage channels.", nil).
			WithContext("channel_id", vs.ChannelID)
	}
	return vs.ChannelID, nil
}

// frameEmbed converts a display frame into a Discord embed.
func frameEmbed(frame display.Frame, color int) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: display.FieldTrack, Value: frame.Track},
		{Name: display.FieldProgress, Value: frame.Progress},
	}
	if frame.Lyrics != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: display.FieldLyrics, Value: frame.Lyrics})
	}
	fields = append(fields,
		&discordgo.MessageEmbedField{Name: display.FieldArtist, Value: frame.Artist, Inline: true},
		&discordgo.MessageEmbedField{Name: display.FieldRequester, Value: frame.Requester, Inline: true},
	)

	embed := &discordgo.MessageEmbed{
		Title:     frame.Title,
		Color:     color,
		Fields:    fields,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if frame.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: frame.ThumbnailURL}
	}
	return embed
}

// messageEditor edits one "now playing" message.
type messageEditor struct {
	session   *discordgo.Session
	channelID string
	messageID string
	color     int
}

func (e *messageEditor) Edit(ctx context.Context, frame display.Frame) error {
	edit := discordgo.NewMessageEdit(e.channelID, e.messageID).SetEmbed(frameEmbed(frame, e.color))
	_, err := e.session.ChannelMessageEditComplex(edit,
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
	)
	return classifyEditError(err)
}

// classifyEditError maps Discord responses onto the display driver's
// rate-limit and message-gone conditions.
func classifyEditError(err error) error {
	if err == nil {
		return nil
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %v", display.ErrRateLimited, err)
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
			return fmt.Errorf("%w: %v", display.ErrMessageGone, err)
		}
		if restErr.Response != nil {
			switch restErr.Response.StatusCode {
			case http.StatusTooManyRequests:
				return fmt.Errorf("%w: %v", display.ErrRateLimited, err)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %v", display.ErrMessageGone, err)
			}
		}
	}
	return err
}

const (
	progressBarWidth   = 10
	progressIdleWindow = 30 * time.Second
)

// progressMessage shows materialization progress in one channel message.
// Reports are throttled and never block the caller; a single worker sends
// the newest pending text.
type progressMessage struct {
	session   *discordgo.Session
	channelID string
	limiter   *rate.Limiter
	log       *logger.Logger

	mu        sync.Mutex
	running   bool
	messageID string
	pending   chan string
}

func newProgressMessage(s *discordgo.Session, channelID string, interval time.Duration, log *logger.Logger) *progressMessage {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &progressMessage{
		session:   s,
		channelID: channelID,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		log:       log,
		pending:   make(chan string, 1),
	}
}

// Func adapts the message to a resolver progress sink.
func (p *progressMessage) Func() source.ProgressFunc {
	return p.report
}

func (p *progressMessage) report(stage, message string, fraction float64) {
	if fraction < 1 && !p.limiter.Allow() {
		return
	}
	text := renderProgress(stage, message, fraction)

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.pending:
	default:
	}
	p.pending <- text
	if !p.running {
		p.running = true
		go p.run()
	}
}

func (p *progressMessage) run() {
	idle := time.NewTimer(progressIdleWindow)
	defer idle.Stop()

	for {
		select {
		case text := <-p.pending:
			p.send(text)
			idle.Reset(progressIdleWindow)
		case <-idle.C:
			p.mu.Lock()
			if len(p.pending) == 0 {
				p.running = false
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(progressIdleWindow)
		}
	}
}

func (p *progressMessage) send(text string) {
	if p.messageID == "" {
		msg, err := p.session.ChannelMessageSend(p.channelID, text)
		if err != nil {
			p.log.Debug("Failed to send progress message", logger.Fields{"error": err.Error()})
			return
		}
		p.messageID = msg.ID
		return
	}
	if _, err := p.session.ChannelMessageEdit(p.channelID, p.messageID, text); err != nil {
		p.log.Debug("Failed to edit progress message", logger.Fields{"error": err.Error()})
	}
}

func renderProgress(stage, message string, fraction float64) string {
	fraction = min(1, max(0, fraction))
	filled := int(fraction * progressBarWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)

	icon := "⏳"
	if fraction >= 1 {
		icon = "✅"
	}
	return fmt.Sprintf("%s%s %s `[%s] %d%%` _%s_", messagePrefix, icon, message, bar, int(fraction*100), stage)
}
