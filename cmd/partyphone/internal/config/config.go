// Package config loads the partyphone YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/AustinMutschler/partyphone/pkg/schedule"
)

// ARI configures access to the Asterisk REST Interface.
type ARI struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	App      string `yaml:"app"`
}

// OpenAI configures the realtime voice backend.
type OpenAI struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Store configures the on-disk schedule database.
type Store struct {
	Dir string `yaml:"dir"`
}

// Phone configures line-level behavior.
type Phone struct {
	// OutgoingNumber is the endpoint scheduled persona calls dial.
	OutgoingNumber string `yaml:"outgoing_number"`

	// MediaHost is the address Asterisk sends RTP to.
	MediaHost string `yaml:"media_host"`

	// RecordDir, when set, records persona speech per call.
	RecordDir string `yaml:"record_dir"`

	// FFmpegPath overrides the ffmpeg binary.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// Persona configures one AI character.
type Persona struct {
	Name          string           `yaml:"name"`
	Number        string           `yaml:"number"`
	Voice         string           `yaml:"voice"`
	InboundPrompt string           `yaml:"inbound_prompt"`
	Schedule      []schedule.Entry `yaml:"schedule"`
}

// Condition configures one condition line.
type Condition struct {
	Number      string `yaml:"number"`
	ConditionID string `yaml:"condition_id"`
	CueFile     string `yaml:"cue_file"`
}

// Config is the full daemon configuration.
type Config struct {
	ARI        ARI         `yaml:"ari"`
	OpenAI     OpenAI      `yaml:"openai"`
	Store      Store       `yaml:"store"`
	Phone      Phone       `yaml:"phone"`
	Personas   []Persona   `yaml:"personas"`
	Conditions []Condition `yaml:"conditions"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ARI.URL == "" {
		return fmt.Errorf("ari.url is required")
	}
	if c.ARI.Username == "" || c.ARI.Password == "" {
		return fmt.Errorf("ari.username and ari.password are required")
	}
	if c.ARI.App == "" {
		c.ARI.App = "partyphone"
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}

	hasSchedule := false
	for i, p := range c.Personas {
		if p.Name == "" {
			return fmt.Errorf("personas[%d].name is required", i)
		}
		if len(p.Schedule) > 0 {
			hasSchedule = true
		}
		if p.Number == "" && len(p.Schedule) == 0 {
			return fmt.Errorf("persona %q has no number and no schedule", p.Name)
		}
	}
	if hasSchedule && c.Phone.OutgoingNumber == "" {
		return fmt.Errorf("phone.outgoing_number is required when personas have schedules")
	}

	for i, cond := range c.Conditions {
		if cond.Number == "" || cond.ConditionID == "" {
			return fmt.Errorf("conditions[%d] needs number and condition_id", i)
		}
		if cond.CueFile == "" {
			return fmt.Errorf("conditions[%d] needs cue_file", i)
		}
	}
	return nil
}
