package main

import (
	"fmt"
	"runtime/debug"

	"songbird/internal/boterr"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"github.com/bwmarrin/discordgo"
)

const messagePrefix = "**[Muse]** "

// ErrorHandler handles errors consistently across the bot
type ErrorHandler struct {
	session *discordgo.Session
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewErrorHandler(session *discordgo.Session, log *logger.Logger, m *metrics.Metrics) *ErrorHandler {
	return &ErrorHandler{session: session, log: log.WithComponent("errors"), metrics: m}
}

// Handle logs err and sends one short message to the channel. User-input
// errors are logged at debug level only.
func (eh *ErrorHandler) Handle(channelID string, err error, fields logger.Fields) {
	if err == nil {
		return
	}

	errType := boterr.TypeOf(err)
	if fields == nil {
		fields = logger.Fields{}
	}
	fields["error_type"] = string(errType)
	fields["channel_id"] = channelID

	if boterr.IsUserError(err) {
		eh.log.Debug("User error", logger.Fields{"error": err.Error()}, fields)
	} else {
		eh.log.Error("Command failed", err, fields)
		eh.metrics.RecordError(string(errType))
	}

	if channelID == "" || eh.session == nil {
		return
	}
	if _, sendErr := eh.session.ChannelMessageSend(channelID, userMessage(err)); sendErr != nil {
		eh.log.Warn("Failed to send error message", logger.Fields{"channel_id": channelID, "error": sendErr.Error()})
	}
}

// Recover is deferred by goroutines that serve a channel.
func (eh *ErrorHandler) Recover(channelID string) {
	if r := recover(); r != nil {
		eh.log.LogPanic(r, debug.Stack())
		eh.Handle(channelID, boterr.NewInternalError(fmt.Sprintf("panic recovered: %v", r), nil), nil)
	}
}

func userMessage(err error) string {
	return messagePrefix + boterr.UserMessage(err)
}
