package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"songbird/internal/boterr"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"
)

// Conn is a live voice connection.
type Conn interface {
	ChannelID() string
	Ready() bool
	Speaking(bool) error
	Disconnect() error
}

// Dialer opens voice connections. Dial may block until the connection is ready.
type Dialer interface {
	Dial(guildID, channelID string) (Conn, error)
}

// Stream is an in-flight playback.
type Stream interface {
	SetPaused(bool)
	Stop()
	// Done delivers at most one value when playback ends. io.EOF means the
	// source finished normally.
	Done() <-chan error
}

// Encoder starts streaming source (a file path or URL) into conn.
type Encoder interface {
	Start(conn Conn, source string) (Stream, error)
}

// State represents the per-guild voice state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StatePlaying      State = "playing"
	StatePaused       State = "paused"
)

// Connected reports whether s is one of the connected sub-states.
func (s State) Connected() bool {
	return s == StateIdle || s == StatePlaying || s == StatePaused
}

// Config holds voice manager configuration
type Config struct {
	ConnectTimeout time.Duration
}

// ConnectionInfo is a read-only view of a guild's voice session.
type ConnectionInfo struct {
	Connected bool   `json:"connected"`
	ChannelID string `json:"channel_id,omitempty"`
	State     State  `json:"state"`
	Playing   bool   `json:"playing"`
	Paused    bool   `json:"paused"`
}

// Manager owns at most one voice connection per guild. All mutation of a
// connection goes through its locked connect/disconnect path.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   Config
	dialer   Dialer
	encoder  Encoder
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Session is the voice state for one guild.
type Session struct {
	// connectMu serializes connect and disconnect so a slow dial cannot
	// interleave with a teardown.
	connectMu sync.Mutex

	mu           sync.RWMutex
	guildID      string
	channelID    string
	conn         Conn
	playback     *playback
	state        State
	lastActivity time.Time
}

type playback struct {
	stream     Stream
	onFinished func(error)
	once       sync.Once
	stopped    chan struct{}
}

// finish runs onFinished exactly once, whichever path ends the playback.
func (p *playback) finish(err error) {
	p.once.Do(func() {
		close(p.stopped)
		if p.onFinished != nil {
			p.onFinished(err)
		}
	})
}

func NewManager(config Config, dialer Dialer, encoder Encoder, log *logger.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Global()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		dialer:   dialer,
		encoder:  encoder,
		log:      log.WithComponent("voice"),
		metrics:  m,
		now:      time.Now,
	}
}

// session returns the guild's session, creating it when create is set.
func (m *Manager) session(guildID string, create bool) *Session {
	m.mu.RLock()
	s, ok := m.sessions[guildID]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[guildID]; ok {
		return s
	}
	s = &Session{
		guildID:      guildID,
		state:        StateDisconnected,
		lastActivity: m.now(),
	}
	m.sessions[guildID] = s
	return s
}

// Connect joins channelID. It is a no-op when already connected there and
// moves the session when connected elsewhere. On failure the guild is left
// disconnected and the error wraps ErrConnectTimeout or ErrConnectRejected.
func (m *Manager) Connect(ctx context.Context, guildID, channelID string) error {
	s := m.session(guildID, true)

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.conn != nil && s.channelID == channelID && s.conn.Ready() {
		s.mu.Unlock()
		return nil
	}
	var stopped *playback
	if s.conn != nil {
		m.log.WithGuild(guildID).LogVoiceEvent("moving", logger.Fields{
			"from": s.channelID,
			"to":   channelID,
		})
		stopped = m.teardownLocked(s)
	}
	m.setState(s, StateConnecting)
	s.mu.Unlock()

	if stopped != nil {
		stopped.finish(nil)
	}

	conn, err := m.dial(ctx, guildID, channelID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		m.setState(s, StateDisconnected)
		m.metrics.RecordVoiceEvent("connect_failed")
		m.log.Error("Voice connect failed", err, logger.Fields{"guild_id": guildID, "channel_id": channelID})
		return boterr.NewConnectionError("voice connect failed", err).
			WithContext("guild_id", guildID).
			WithContext("channel_id", channelID)
	}

	s.conn = conn
	s.channelID = channelID
	m.setState(s, StateIdle)
	m.metrics.RecordVoiceEvent("connected")
	m.log.WithGuild(guildID).LogVoiceEvent("connected", logger.Fields{"channel_id": channelID})
	return nil
}

type dialResult struct {
	conn Conn
	err  error
}

func (m *Manager) dial(ctx context.Context, guildID, channelID string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	results := make(chan dialResult, 1)
	go func() {
		conn, err := m.dialer.Dial(guildID, channelID)
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", boterr.ErrConnectRejected, res.err)
		}
		if res.conn == nil {
			return nil, boterr.ErrConnectRejected
		}
		return res.conn, nil
	case <-ctx.Done():
		// A dial that completes after the deadline must not leak a connection.
		go func() {
			if res := <-results; res.conn != nil {
				_ = res.conn.Disconnect()
			}
		}()
		return nil, boterr.ErrConnectTimeout
	}
}

// Play streams source into the guild's connection, replacing any in-flight
// playback. onFinished is called exactly once: when the source ends, fails,
// or is stopped by Stop, Play, Connect or Disconnect.
func (m *Manager) Play(guildID, source string, onFinished func(error)) error {
	s := m.session(guildID, false)
	if s == nil {
		return boterr.NewConnectionError("play without connection", boterr.ErrNotConnected)
	}

	s.mu.Lock()
	if s.conn == nil || !s.state.Connected() {
		s.mu.Unlock()
		return boterr.NewConnectionError("play without connection", boterr.ErrNotConnected)
	}

	replaced := m.stopLocked(s)

	stream, err := m.encoder.Start(s.conn, source)
	if err != nil {
		s.mu.Unlock()
		if replaced != nil {
			replaced.finish(nil)
		}
		m.metrics.RecordVoiceEvent("play_failed")
		return boterr.NewPlaybackError("encoder start failed", err).WithContext("guild_id", guildID)
	}

	pb := &playback{stream: stream, onFinished: onFinished, stopped: make(chan struct{})}
	s.playback = pb
	if err := s.conn.Speaking(true); err != nil {
		m.log.Warn("Failed to set speaking", logger.Fields{"guild_id": guildID, "error": err.Error()})
	}
	m.setState(s, StatePlaying)
	s.mu.Unlock()

	if replaced != nil {
		replaced.finish(nil)
	}
	m.metrics.RecordVoiceEvent("play")

	go m.watch(s, pb)
	return nil
}

// watch waits for the stream to end on its own and reports the result.
func (m *Manager) watch(s *Session, pb *playback) {
	var err error
	select {
	case err = <-pb.stream.Done():
	case <-pb.stopped:
		return
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}

	s.mu.Lock()
	if s.playback == pb {
		s.playback = nil
		if s.conn != nil {
			_ = s.conn.Speaking(false)
		}
		m.setState(s, StateIdle)
	}
	s.mu.Unlock()

	if err != nil {
		m.metrics.RecordVoiceEvent("playback_error")
		m.log.Warn("Playback ended with error", logger.Fields{"guild_id": s.guildID, "error": err.Error()})
		err = boterr.NewPlaybackError("stream failed", err).WithContext("guild_id", s.guildID)
	}
	pb.finish(err)
}

// stopLocked detaches the current playback and returns it so the caller can
// run its callback after releasing the lock.
func (m *Manager) stopLocked(s *Session) *playback {
	pb := s.playback
	if pb == nil {
		return nil
	}
	s.playback = nil
	pb.stream.Stop()
	if s.conn != nil {
		_ = s.conn.Speaking(false)
	}
	if s.state.Connected() {
		m.setState(s, StateIdle)
	}
	return pb
}

func (m *Manager) teardownLocked(s *Session) *playback {
	pb := m.stopLocked(s)
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			m.log.Warn("Voice disconnect returned error", logger.Fields{"guild_id": s.guildID, "error": err.Error()})
		}
	}
	s.conn = nil
	s.channelID = ""
	m.setState(s, StateDisconnected)
	return pb
}

// Stop ends the current playback. It returns false when nothing was playing.
func (m *Manager) Stop(guildID string) bool {
	s := m.session(guildID, false)
	if s == nil {
		return false
	}

	s.mu.Lock()
	pb := m.stopLocked(s)
	s.mu.Unlock()

	if pb == nil {
		return false
	}
	pb.finish(nil)
	m.metrics.RecordVoiceEvent("stop")
	return true
}

// Pause returns false unless the guild was playing.
func (m *Manager) Pause(guildID string) bool {
	s := m.session(guildID, false)
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying || s.playback == nil {
		return false
	}
	s.playback.stream.SetPaused(true)
	if s.conn != nil {
		_ = s.conn.Speaking(false)
	}
	m.setState(s, StatePaused)
	return true
}

// Resume returns false unless the guild was paused.
func (m *Manager) Resume(guildID string) bool {
	s := m.session(guildID, false)
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused || s.playback == nil {
		return false
	}
	s.playback.stream.SetPaused(false)
	if s.conn != nil {
		_ = s.conn.Speaking(true)
	}
	m.setState(s, StatePlaying)
	return true
}

// Disconnect releases the guild's connection. It is safe on a guild that is
// already disconnected and returns whether a connection was released.
func (m *Manager) Disconnect(guildID string) bool {
	s := m.session(guildID, false)
	if s == nil {
		return false
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	had := s.conn != nil
	pb := m.teardownLocked(s)
	s.mu.Unlock()

	if pb != nil {
		pb.finish(nil)
	}
	if had {
		m.metrics.RecordVoiceEvent("disconnected")
		m.log.WithGuild(guildID).LogVoiceEvent("disconnected", nil)
	}
	return had
}

// IsConnected reports a live, ready connection.
func (m *Manager) IsConnected(guildID string) bool {
	s := m.session(guildID, false)
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.conn.Ready()
}

func (m *Manager) IsPlaying(guildID string) bool {
	return m.State(guildID) == StatePlaying
}

func (m *Manager) IsPaused(guildID string) bool {
	return m.State(guildID) == StatePaused
}

func (m *Manager) State(guildID string) State {
	s := m.session(guildID, false)
	if s == nil {
		return StateDisconnected
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (m *Manager) ConnectionInfo(guildID string) ConnectionInfo {
	s := m.session(guildID, false)
	if s == nil {
		return ConnectionInfo{State: StateDisconnected}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConnectionInfo{
		Connected: s.conn != nil && s.conn.Ready(),
		ChannelID: s.channelID,
		State:     s.state,
		Playing:   s.state == StatePlaying,
		Paused:    s.state == StatePaused,
	}
}

// ActiveSessions returns the number of guilds currently playing or paused.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, s := range m.sessions {
		s.mu.RLock()
		if s.state == StatePlaying || s.state == StatePaused {
			active++
		}
		s.mu.RUnlock()
	}
	return active
}

// CleanupInactiveSessions disconnects and forgets guilds that have not played
// anything for maxAge. It returns how many were removed.
func (m *Manager) CleanupInactiveSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.RLock()
	var stale []string
	for guildID, s := range m.sessions {
		s.mu.RLock()
		if s.playback == nil && s.state != StateConnecting && s.lastActivity.Before(cutoff) {
			stale = append(stale, guildID)
		}
		s.mu.RUnlock()
	}
	m.mu.RUnlock()

	removed := 0
	for _, guildID := range stale {
		m.Disconnect(guildID)

		m.mu.Lock()
		if s, ok := m.sessions[guildID]; ok {
			s.mu.RLock()
			idle := s.playback == nil && s.state == StateDisconnected
			s.mu.RUnlock()
			if idle {
				delete(m.sessions, guildID)
				removed++
			}
		}
		m.mu.Unlock()
	}

	if removed > 0 {
		m.log.Info("Cleaned up inactive voice sessions", logger.Fields{"removed": removed})
	}
	return removed
}

// Shutdown disconnects every guild.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	guilds := make([]string, 0, len(m.sessions))
	for guildID := range m.sessions {
		guilds = append(guilds, guildID)
	}
	m.mu.RUnlock()

	for _, guildID := range guilds {
		m.Disconnect(guildID)
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}

// setState must be called with s.mu held.
func (m *Manager) setState(s *Session, state State) {
	if s.state == state {
		s.lastActivity = m.now()
		return
	}
	m.log.Debug("Voice state change", logger.Fields{
		"guild_id": s.guildID,
		"from":     string(s.state),
		"to":       string(state),
	})
	s.state = state
	s.lastActivity = m.now()
}
