package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Call      Call      `json:"call"`
	Media     Media     `json:"media"`
	HTTP      HTTP      `json:"http"`
	Log       Log       `json:"log"`
}

type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`

	// Contacts limits who may be called. Empty means anyone the backend
	// knows.
	Contacts []string `json:"contacts"`
}

type Signaling struct {
	URL          string `json:"url"`
	Token        string `json:"token"`
	MinBackoffMs int    `json:"min_backoff_ms"`
	MaxBackoffMs int    `json:"max_backoff_ms"`
}

type TURNServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

type ICE struct {
	STUN          []string     `json:"stun"`
	TURN          []TURNServer `json:"turn"`
	CandidatePool int          `json:"candidate_pool"`

	// RelayOnly sends media through TURN only, hiding local addresses.
	RelayOnly bool `json:"relay_only"`
}

type Call struct {
	NoAnswerTimeoutSec  int `json:"no_answer_timeout_seconds"`
	TrackPollIntervalMs int `json:"track_poll_interval_ms"`
	SendTimeoutSec      int `json:"send_timeout_seconds"`
}

type Media struct {
	PreferredCam string  `json:"preferred_cam"`
	PreferredMic string  `json:"preferred_mic"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FrameRate    float64 `json:"frame_rate"`
	SampleRate   int     `json:"sample_rate"`
	VideoBitRate int     `json:"video_bit_rate"`
}

type HTTP struct {
	Addr      string `json:"addr"`
	StaticDir string `json:"static_dir"`
}

type Log struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			UserID:      "me",
			DisplayName: "Me",
		},
		Signaling: Signaling{
			URL:          "ws://127.0.0.1:8080/ws",
			MinBackoffMs: 500,
			MaxBackoffMs: 30000,
		},
		ICE: ICE{
			STUN: []string{"stun:stun.l.google.com:19302"},
		},
		Call: Call{
			NoAnswerTimeoutSec:  60,
			TrackPollIntervalMs: 500,
			SendTimeoutSec:      5,
		},
		Media: Media{
			Width:        1280,
			Height:       720,
			FrameRate:    30,
			SampleRate:   48000,
			VideoBitRate: 1_000_000,
		},
		HTTP: HTTP{
			Addr:      "127.0.0.1:8090",
			StaticDir: "./static",
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return errors.New("identity.user_id is required")
	}

	// Signaling
	if err := validateSignalingURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.MinBackoffMs <= 0 {
		return errors.New("signaling.min_backoff_ms must be > 0")
	}
	if c.Signaling.MaxBackoffMs < c.Signaling.MinBackoffMs {
		return errors.New("signaling.max_backoff_ms must be >= signaling.min_backoff_ms")
	}

	// ICE
	for i, s := range c.ICE.STUN {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("ice.stun[%d] must start with stun: or stuns:", i)
		}
	}
	for i, t := range c.ICE.TURN {
		if len(t.URLs) == 0 {
			return fmt.Errorf("ice.turn[%d].urls is required", i)
		}
		if t.Username == "" || t.Credential == "" {
			return fmt.Errorf("ice.turn[%d] needs username and credential", i)
		}
	}
	if c.ICE.CandidatePool < 0 || c.ICE.CandidatePool > 255 {
		return errors.New("ice.candidate_pool must be 0..255")
	}
	if c.ICE.RelayOnly && len(c.ICE.TURN) == 0 {
		return errors.New("ice.relay_only needs at least one ice.turn server")
	}

	// Call
	if c.Call.NoAnswerTimeoutSec <= 0 {
		return errors.New("call.no_answer_timeout_seconds must be > 0")
	}
	if c.Call.TrackPollIntervalMs < 50 {
		return errors.New("call.track_poll_interval_ms must be >= 50")
	}
	if c.Call.SendTimeoutSec <= 0 {
		return errors.New("call.send_timeout_seconds must be > 0")
	}

	// Media
	if c.Media.Width < 0 || c.Media.Height < 0 || c.Media.FrameRate < 0 {
		return errors.New("media dimensions must be >= 0")
	}
	if c.Media.SampleRate < 0 {
		return errors.New("media.sample_rate must be >= 0")
	}

	// HTTP
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}

	// Log
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validateSignalingURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c Call) NoAnswerTimeout() time.Duration {
	return time.Duration(c.NoAnswerTimeoutSec) * time.Second
}

func (c Call) TrackPollInterval() time.Duration {
	return time.Duration(c.TrackPollIntervalMs) * time.Millisecond
}

func (c Call) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

func (s Signaling) MinBackoff() time.Duration {
	return time.Duration(s.MinBackoffMs) * time.Millisecond
}

func (s Signaling) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Editors on Windows like to prepend a BOM.
	b = stripBOM(b)

	// Missing fields keep their defaults.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
