package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
ari:
  url: http://127.0.0.1:8088/ari
  username: partyphone
  password: secret
openai:
  api_key: sk-test
store:
  dir: /var/lib/partyphone
phone:
  outgoing_number: "100"
personas:
  - name: martha
    number: "201"
    voice: alloy
    inbound_prompt: You are Martha.
    schedule:
      - prompt: Ask about the noise.
        start_at: 2024-06-01T21:00:00Z
        condition_id: breaker-flipped
conditions:
  - number: "301"
    condition_id: breaker-flipped
    cue_file: /var/lib/partyphone/cue.wav
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ARI.App != "partyphone" {
		t.Errorf("ari.app default = %q, want partyphone", cfg.ARI.App)
	}
	if len(cfg.Personas) != 1 {
		t.Fatalf("%d personas, want 1", len(cfg.Personas))
	}
	p := cfg.Personas[0]
	if p.Name != "martha" || p.Number != "201" {
		t.Errorf("persona = %+v", p)
	}
	if len(p.Schedule) != 1 {
		t.Fatalf("%d schedule entries, want 1", len(p.Schedule))
	}
	entry := p.Schedule[0]
	want := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)
	if !entry.StartAt.Equal(want) {
		t.Errorf("start_at = %v, want %v", entry.StartAt, want)
	}
	if entry.ConditionID != "breaker-flipped" {
		t.Errorf("condition_id = %q", entry.ConditionID)
	}
	if len(cfg.Conditions) != 1 || cfg.Conditions[0].Number != "301" {
		t.Errorf("conditions = %+v", cfg.Conditions)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		drop string
		want string
	}{
		{"missing ari url", "url: http://127.0.0.1:8088/ari", "ari.url"},
		{"missing api key", "api_key: sk-test", "openai.api_key"},
		{"missing store dir", "dir: /var/lib/partyphone", "store.dir"},
		{"missing outgoing number", `outgoing_number: "100"`, "phone.outgoing_number"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content := strings.Replace(validConfig, tc.drop, "", 1)
			_, err := Load(writeConfig(t, content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load of a missing file succeeded")
	}
}
