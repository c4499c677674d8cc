package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"songbird/internal/boterr"
	"songbird/internal/services/display"
	"songbird/internal/services/player"
	"songbird/internal/services/queue"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

// commandFunc runs one command. args excludes the command word.
type commandFunc func(ctx context.Context, m *discordgo.MessageCreate, args []string) error

// CommandRouter dispatches "<prefix> <command> [args]" messages.
type CommandRouter struct {
	ctx      context.Context
	prefix   string
	session  *discordgo.Session
	player   *player.Player
	errors   *ErrorHandler
	log      *logger.Logger
	metrics  *metrics.Metrics
	commands map[string]commandFunc

	queueLimit       int
	barLength        int
	progressInterval time.Duration
	embedColor       int
}

type RouterConfig struct {
	Prefix           string
	QueueLimit       int
	BarLength        int
	ProgressInterval time.Duration
	EmbedColor       int
}

func NewCommandRouter(ctx context.Context, config RouterConfig, s *discordgo.Session, p *player.Player,
	eh *ErrorHandler, log *logger.Logger, m *metrics.Metrics) *CommandRouter {
	r := &CommandRouter{
		ctx:              ctx,
		prefix:           config.Prefix,
		session:          s,
		player:           p,
		errors:           eh,
		log:              log.WithComponent("commands"),
		metrics:          m,
		queueLimit:       config.QueueLimit,
		barLength:        config.BarLength,
		progressInterval: config.ProgressInterval,
		embedColor:       config.EmbedColor,
	}

	r.commands = make(map[string]commandFunc)
	r.register(r.play, "play", "p")
	r.register(r.showQueue, "queue", "q")
	r.register(r.nowPlaying, "now", "current", "playing", "np")
	r.register(r.skip, "skip", "next")
	r.register(r.stop, "stop", "disconnect", "leave")
	r.register(r.jump, "jump", "goto")
	r.register(r.remove, "remove", "rm")
	r.register(r.pause, "pause")
	r.register(r.resume, "resume")
	r.register(r.help, "help")
	return r
}

func (r *CommandRouter) register(fn commandFunc, names ...string) {
	for _, name := range names {
		r.commands[name] = fn
	}
}

// parseCommand splits content into a command word and its arguments. A bare
// URL after the prefix is a play command; the prefix alone asks for help.
func parseCommand(prefix, content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(strings.ToLower(content), strings.ToLower(prefix)) {
		return "", nil, false
	}
	rest := content[len(prefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", nil, false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "help", nil, true
	}
	if looksLikeURL(fields[0]) {
		return "play", fields, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func looksLikeURL(s string) bool {
	s = strings.ToLower(s)
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

// HandleMessage is the discordgo MessageCreate handler.
func (r *CommandRouter) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	name, args, ok := parseCommand(r.prefix, m.Content)
	if !ok {
		return
	}
	if m.GuildID == "" {
		r.reply(m.ChannelID, "I only work in servers, not DMs!")
		return
	}
	defer r.errors.Recover(m.ChannelID)

	fn, known := r.commands[name]
	if !known {
		fn = func(context.Context, *discordgo.MessageCreate, []string) error {
			return boterr.NewValidationError(
				fmt.Sprintf("Unknown command `%s`. Use `%s help` for usage.", name, r.prefix), nil)
		}
	}

	start := time.Now()
	err := fn(r.ctx, m, args)
	duration := time.Since(start)

	r.metrics.RecordCommandExecution(name, err == nil, duration)
	r.log.WithUser(m.Author.ID, m.Author.Username).LogCommandEvent(name, m.Author.ID, m.GuildID, err == nil, duration)

	if err != nil {
		r.errors.Handle(m.ChannelID, err, logger.Fields{
			"command":  name,
			"guild_id": m.GuildID,
			"user_id":  m.Author.ID,
		})
	}
}

func (r *CommandRouter) reply(channelID, text string) {
	if _, err := r.session.ChannelMessageSend(channelID, messagePrefix+text); err != nil {
		r.log.Warn("Failed to send reply", logger.Fields{"channel_id": channelID, "error": err.Error()})
	}
}

func (r *CommandRouter) play(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return boterr.NewValidationError(fmt.Sprintf("Usage: `%s <url>`", r.prefix), nil)
	}
	url := args[0]
	if !r.player.IsSupported(url) {
		return boterr.New(boterr.TypeResolution, "unsupported url",
			"That link isn't supported. Send a YouTube or files.catbox.moe link.", boterr.ErrUnsupportedURL).
			WithContext("url", url)
	}

	voiceChannelID, err := findVoiceChannel(r.session, m.GuildID, m.Author.ID)
	if err != nil {
		return err
	}

	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	progress := newProgressMessage(r.session, m.ChannelID, r.progressInterval, r.log.WithGuild(m.GuildID))

	position, song, err := r.player.Enqueue(ctx, player.Request{
		GuildID:        m.GuildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  m.ChannelID,
		URL:            url,
		Requester:      queue.Requester{ID: m.Author.ID, DisplayName: name},
		Progress:       progress.Func(),
	})
	if err != nil {
		return err
	}

	r.reply(m.ChannelID, enqueuedText(song, position))
	return nil
}

// enqueuedText announces a new song. position counts the current song as 1;
// the reply numbers pending songs the way the queue listing and jump do.
func enqueuedText(song *queue.Song, position int) string {
	switch position {
	case 1:
		return fmt.Sprintf("Loading [%s] :notes:", song.Title())
	case 2:
		return fmt.Sprintf("Queued [%s] (%s), up next :notes:", song.Title(), song.Metadata.FormattedDuration())
	default:
		return fmt.Sprintf("Queued [%s] (%s) as #%d in the queue :notes:",
			song.Title(), song.Metadata.FormattedDuration(), position-1)
	}
}

func (r *CommandRouter) showQueue(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	snap := r.player.Snapshot(m.GuildID, r.queueLimit)
	_, err := r.session.ChannelMessageSendEmbed(m.ChannelID, queueEmbed(snap, r.embedColor))
	return err
}

// queueEmbed lists the current song and the first pending songs.
func queueEmbed(snap player.Snapshot, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "🎶 Queue", Color: color}

	if snap.Current == nil && len(snap.Pending) == 0 {
		embed.Description = "Queue is empty"
		return embed
	}

	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "**Now Playing:** %s (%s) ▸ %s\n\n",
			snap.Current.Title(), snap.Current.Metadata.FormattedDuration(), snap.Current.Requester.DisplayName)
	}
	lines := lo.Map(snap.Pending, func(e queue.Entry, _ int) string {
		return fmt.Sprintf("`%d.` %s (%s) ▸ %s",
			e.Position, e.Song.Title(), e.Song.Metadata.FormattedDuration(), e.Song.Requester.DisplayName)
	})
	b.WriteString(strings.Join(lines, "\n"))
	if more := snap.Length - len(snap.Pending); more > 0 {
		fmt.Fprintf(&b, "\n…and %d more", more)
	}
	embed.Description = b.String()

	embed.Footer = &discordgo.MessageEmbedFooter{Text: snap.Summary}
	return embed
}

func (r *CommandRouter) nowPlaying(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	snap := r.player.Snapshot(m.GuildID, 0)
	if snap.Current == nil {
		return boterr.NewNothingPlayingError()
	}
	r.reply(m.ChannelID, nowPlayingText(snap, r.barLength))
	return nil
}

func nowPlayingText(snap player.Snapshot, barLength int) string {
	status := display.StatusPlaying
	if snap.Paused {
		status = display.StatusPaused
	}
	total := time.Duration(snap.Current.Duration()) * time.Second
	return fmt.Sprintf("Now playing [%s]\n%s", snap.Current.Title(),
		display.ProgressText(status, snap.Position, total, barLength))
}

func (r *CommandRouter) skip(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	title, err := r.player.Skip(m.GuildID)
	if err != nil {
		return err
	}
	r.reply(m.ChannelID, fmt.Sprintf("Skipping [%s] :loop:", title))
	return nil
}

func (r *CommandRouter) stop(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	if err := r.player.Stop(m.GuildID); err != nil {
		return err
	}
	r.reply(m.ChannelID, "Stopped & cleared the queue :octagonal_sign:")
	return nil
}

func (r *CommandRouter) jump(_ context.Context, m *discordgo.MessageCreate, args []string) error {
	position, err := positionArg(r.prefix, "jump", args)
	if err != nil {
		return err
	}
	title, err := r.player.JumpTo(m.GuildID, position)
	if err != nil {
		return err
	}
	r.reply(m.ChannelID, fmt.Sprintf("Jumping to [%s] :leftwards_arrow_with_hook:", title))
	return nil
}

func (r *CommandRouter) remove(_ context.Context, m *discordgo.MessageCreate, args []string) error {
	position, err := positionArg(r.prefix, "remove", args)
	if err != nil {
		return err
	}
	title, err := r.player.Remove(m.GuildID, position)
	if err != nil {
		return err
	}
	r.reply(m.ChannelID, fmt.Sprintf("Removed [%s]", title))
	return nil
}

func positionArg(prefix, command string, args []string) (int, error) {
	usage := boterr.NewValidationError(fmt.Sprintf("Usage: `%s %s <position>`", prefix, command), nil)
	if len(args) != 1 {
		return 0, usage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, usage
	}
	return n, nil
}

func (r *CommandRouter) pause(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	ok, err := r.player.Pause(m.GuildID)
	if err != nil {
		return err
	}
	if !ok {
		r.reply(m.ChannelID, "Already paused.")
		return nil
	}
	r.reply(m.ChannelID, "Paused ⏸")
	return nil
}

func (r *CommandRouter) resume(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	ok, err := r.player.Resume(m.GuildID)
	if err != nil {
		return err
	}
	if !ok {
		r.reply(m.ChannelID, "Not paused.")
		return nil
	}
	r.reply(m.ChannelID, "Resumed ▶")
	return nil
}

func (r *CommandRouter) help(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	_, err := r.session.ChannelMessageSend(m.ChannelID, helpText(r.prefix))
	return err
}

func helpText(prefix string) string {
	var b strings.Builder
	b.WriteString(":robot: **[Muse] HELP MENU** :robot:\n\n")
	b.WriteString(":musical_note: **MUSIC COMMANDS** :musical_note:\n")
	for _, c := range [][2]string{
		{"<url>", "Play a YouTube video or files.catbox.moe audio file"},
		{"queue", "Show the queue"},
		{"now", "Show the current song and its progress"},
		{"skip", "Skip the current song"},
		{"jump <n>", "Jump to song #n in the queue"},
		{"remove <n>", "Remove song #n from the queue"},
		{"pause", "Pause playback"},
		{"resume", "Resume playback"},
		{"stop", "Stop, clear the queue and leave the channel"},
	} {
		fmt.Fprintf(&b, "`%s %s` - %s\n", prefix, c[0], c[1])
	}
	b.WriteString("\n:gear: **SUPPORTED LINKS** :gear:\n")
	b.WriteString("• `https://www.youtube.com/watch?v=...`, `https://youtu.be/...`\n")
	b.WriteString("• `https://files.catbox.moe/<file>.mp3` (mp3, wav, ogg, m4a, flac, aac, opus, wma)\n")
	return b.String()
}
