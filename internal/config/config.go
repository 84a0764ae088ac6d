// Package config handles parsing and writing of the host-owned settings file
// (settings.toml). The engine consumes these values; the CLI restores them at
// startup and writes them back after every command that changes them.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/util"
)

// Defaults applied to missing fields.
const (
	DefaultServerURL    = "https://www.coldaw.app"
	DefaultUserID       = "default_user"
	DefaultAuthor       = "Ableton User"
	DefaultPollInterval = "2s"
	DefaultSettleDelay  = "500ms"
)

// SessionSettings is the last-known session restored at startup.
type SessionSettings struct {
	Username      string `toml:"username,omitempty" json:"username,omitempty" jsonschema:"description=Email of the last logged-in user"`
	Token         string `toml:"token,omitempty" json:"token,omitempty" jsonschema:"description=Bearer token of the last session"`
	CurrentUserID string `toml:"current_user_id,omitempty" json:"current_user_id,omitempty" jsonschema:"description=Server-side id of the last logged-in user"`
}

// Settings represents the persisted host settings (after defaults are applied).
type Settings struct {
	ServerURL    string          `toml:"server_url" json:"server_url" jsonschema:"description=Base URL of the ColDaw server"`
	WebURL       string          `toml:"web_url,omitempty" json:"web_url,omitempty" jsonschema:"description=Base URL used for browser hand-off (defaults to server_url without /api)"`
	UserID       string          `toml:"user_id,omitempty" json:"user_id,omitempty" jsonschema:"description=User-chosen id label"`
	Author       string          `toml:"author,omitempty" json:"author,omitempty" jsonschema:"description=Author used when not logged in"`
	AutoExport   bool            `toml:"auto_export" json:"auto_export" jsonschema:"description=Upload the project automatically when it is saved"`
	OpenBrowser  bool            `toml:"open_browser" json:"open_browser" jsonschema:"description=Open the project page after a successful upload"`
	ProjectsDir  string          `toml:"projects_dir,omitempty" json:"projects_dir,omitempty" jsonschema:"description=Directory scanned for .als project files"`
	PollInterval string          `toml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"description=Interval of the auto-export cycle (e.g. 2s)"`
	SettleDelay  string          `toml:"settle_delay,omitempty" json:"settle_delay,omitempty" jsonschema:"description=Pause before reading a freshly saved project (e.g. 500ms)"`
	Session      SessionSettings `toml:"session,omitempty" json:"session,omitempty" jsonschema:"description=Last-known session"`
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		ServerURL:    DefaultServerURL,
		UserID:       DefaultUserID,
		Author:       DefaultAuthor,
		AutoExport:   false,
		OpenBrowser:  true,
		ProjectsDir:  util.DefaultProjectsDir(),
		PollInterval: DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
	}
}

// SettingsPath returns the settings file location inside the app data dir.
func SettingsPath(appDir string) string {
	return filepath.Join(appDir, util.SettingsFilename)
}

// applyDefaults fills zero-valued fields from DefaultSettings.
func (s *Settings) applyDefaults() {
	def := DefaultSettings()
	if s.ServerURL == "" {
		s.ServerURL = def.ServerURL
	}
	if s.UserID == "" {
		s.UserID = def.UserID
	}
	if s.Author == "" {
		s.Author = def.Author
	}
	if s.ProjectsDir == "" {
		s.ProjectsDir = def.ProjectsDir
	}
	if s.PollInterval == "" {
		s.PollInterval = def.PollInterval
	}
	if s.SettleDelay == "" {
		s.SettleDelay = def.SettleDelay
	}
}

// ResolvedWebURL returns WebURL, or the server URL with any /api suffix
// removed when WebURL is unset.
func (s *Settings) ResolvedWebURL() string {
	if s.WebURL != "" {
		return strings.TrimRight(s.WebURL, "/")
	}
	web := s.ServerURL
	if i := strings.Index(web, "/api"); i >= 0 {
		web = web[:i]
	}
	return strings.TrimRight(web, "/")
}

// PollEvery returns the parsed poll interval.
func (s *Settings) PollEvery() time.Duration {
	return parseDurationOr(s.PollInterval, 2*time.Second)
}

// Settle returns the parsed settle delay.
func (s *Settings) Settle() time.Duration {
	return parseDurationOr(s.SettleDelay, 500*time.Millisecond)
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// Validate reports every invalid field at once.
func (s *Settings) Validate() error {
	var result *multierror.Error

	for name, raw := range map[string]string{"server_url": s.ServerURL, "web_url": s.WebURL} {
		if raw == "" && name == "web_url" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %q is not an http(s) URL", name, raw))
		}
	}

	if d, err := time.ParseDuration(s.PollInterval); err != nil || d < time.Second {
		result = multierror.Append(result, fmt.Errorf("poll_interval: %q must be a duration of at least 1s", s.PollInterval))
	}
	if d, err := time.ParseDuration(s.SettleDelay); err != nil || d < 0 {
		result = multierror.Append(result, fmt.Errorf("settle_delay: %q must be a non-negative duration", s.SettleDelay))
	}
	if strings.TrimSpace(s.ProjectsDir) == "" {
		result = multierror.Append(result, fmt.Errorf("projects_dir: must not be empty"))
	}

	return result.ErrorOrNil()
}

// settingFields maps the user-editable keys to their fields.
var settingFields = map[string]func(s *Settings) any{
	"server_url":    func(s *Settings) any { return &s.ServerURL },
	"web_url":       func(s *Settings) any { return &s.WebURL },
	"user_id":       func(s *Settings) any { return &s.UserID },
	"author":        func(s *Settings) any { return &s.Author },
	"auto_export":   func(s *Settings) any { return &s.AutoExport },
	"open_browser":  func(s *Settings) any { return &s.OpenBrowser },
	"projects_dir":  func(s *Settings) any { return &s.ProjectsDir },
	"poll_interval": func(s *Settings) any { return &s.PollInterval },
	"settle_delay":  func(s *Settings) any { return &s.SettleDelay },
}

// SettingKeys lists the keys accepted by Set, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for k := range settingFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the setting named key. Session fields are not
// settable.
func (s *Settings) Set(key, value string) error {
	field, ok := settingFields[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(SettingKeys(), ", "))
	}
	switch p := field(s).(type) {
	case *string:
		*p = strings.TrimSpace(value)
	case *bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", key, value)
		}
		*p = b
	}
	return nil
}

// LoadSettings reads settings from path. A missing file yields the defaults.
func LoadSettings(fs afero.Fs, path string) (Settings, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	// Absent booleans keep their defaults.
	s := Settings{OpenBrowser: true}
	if err := toml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.applyDefaults()
	return s, nil
}

// SchemaComment is the TOML comment that references the JSON Schema for editor autocomplete.
const SchemaComment = "#:schema https://raw.githubusercontent.com/bolasblack/coldaw-export/refs/heads/master/coldaw-settings.schema.json\n\n"

// SaveSettings writes the settings to path with schema comment header.
func SaveSettings(fs afero.Fs, path string, s Settings) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}

	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	// The file holds the session token.
	if err := afero.WriteFile(fs, path, append([]byte(SchemaComment), data...), 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
