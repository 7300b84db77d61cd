package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/profile"
)

// DefaultAvatarKey selects the configured default avatar instead of a levelshot.
const DefaultAvatarKey = ":default:"

// Profile is the web side of the presence network used for avatars.
type Profile interface {
	SetCookies(sessionID string, cookies []string) error
	UploadAvatar(ctx context.Context, self presence.ID, path string) (string, error)
	AllowRelogin() bool
}

// Synchronizer mirrors the server status into the bot's display name and
// avatar. Avatars are only uploaded when the desired key changes.
type Synchronizer struct {
	nickname      string
	levelshots    string
	defaultAvatar string
	fs            afero.Fs
	client        presence.Client
	profile       Profile
	conn          *Connection
	poller        *Poller
	post          func(event)
	log           *zerolog.Logger

	ctx            context.Context
	lastAppliedKey string
}

// DisplayName renders the persona name for a status.
func DisplayName(nickname string, st ServerStatus, offline bool) string {
	if offline {
		return nickname
	}
	name := fmt.Sprintf("%s [%d/%d", nickname, st.HumanPlayers, st.MaxNormalClients)
	if st.MaxPrivateClients > 0 {
		name += fmt.Sprintf("+%d", st.MaxPrivateClients)
	}
	return name + "]"
}

// LastAppliedKey returns the avatar key of the last upload attempt.
func (s *Synchronizer) LastAppliedKey() string {
	return s.lastAppliedKey
}

// Refresh pushes the current display state. It does nothing unless online.
func (s *Synchronizer) Refresh() {
	if s.conn.State() != StateOnline {
		return
	}
	status, offline := s.poller.Status(), s.poller.Offline()
	s.client.SetPersona(presence.PersonaOnline, DisplayName(s.nickname, status, offline))

	if !s.conn.WebSessionActive() {
		return
	}
	key := s.desiredKey(status, offline)
	if key == s.lastAppliedKey {
		return
	}
	s.lastAppliedKey = key

	path, ok := s.avatarPath(key)
	if !ok {
		s.log.Debug().Str("key", key).Msg("avatar image missing, skipping upload")
		return
	}

	self := s.conn.Self()
	ctx := s.ctx
	s.log.Info().Str("key", key).Str("path", path).Msg("Changing avatar")
	go func() {
		url, err := s.profile.UploadAvatar(ctx, self, path)
		s.post(avatarUploaded{key: key, path: path, url: url, err: err})
	}()
}

func (s *Synchronizer) desiredKey(st ServerStatus, offline bool) string {
	if offline || st.Map == "" {
		return DefaultAvatarKey
	}
	if !s.exists(s.levelshotPath(st.Map)) {
		return DefaultAvatarKey
	}
	return st.Map
}

func (s *Synchronizer) avatarPath(key string) (string, bool) {
	path := s.defaultAvatar
	if key != DefaultAvatarKey {
		path = s.levelshotPath(key)
	}
	if path == "" || !s.exists(path) {
		return "", false
	}
	return path, true
}

func (s *Synchronizer) levelshotPath(mapName string) string {
	return filepath.Join(s.levelshots, filepath.FromSlash(mapName)+".jpg")
}

func (s *Synchronizer) exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

func (s *Synchronizer) uploaded(ev avatarUploaded) {
	if ev.err == nil {
		s.log.Info().Str("url", ev.url).Msg("Changed avatar")
		return
	}
	if !errors.Is(ev.err, profile.ErrSessionExpired) {
		s.log.Error().Err(ev.err).Str("path", ev.path).Msg("Failed to change avatar")
		return
	}
	if !s.conn.WebSessionActive() {
		return
	}
	if !s.profile.AllowRelogin() {
		s.log.Warn().Msg("Web session expired, relogin throttled")
		return
	}
	s.log.Info().Msg("Web session expired, requesting a new one")
	s.conn.webSession = false
	s.client.WebLogOn()
}
