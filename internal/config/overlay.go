package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Overlay is the optional YAML file referenced by DEFENSE_CONFIG_PATH. It
// extends the env config with things that are awkward as single variables:
// additional alert sinks and replacement user-agent lists.
type Overlay struct {
	AlertSinks []AlertSinkConfig `yaml:"alert_sinks"`
	UserAgents UserAgentLists    `yaml:"user_agents"`
}

// AlertSinkConfig declares one alert sink. Kind selects the variant.
type AlertSinkConfig struct {
	Kind        string `yaml:"kind"` // webhook | chat | smtp
	URL         string `yaml:"url,omitempty"`
	MinSeverity string `yaml:"min_severity,omitempty"`
	SMTPHost    string `yaml:"smtp_host,omitempty"`
	SMTPPort    int    `yaml:"smtp_port,omitempty"`
	From        string `yaml:"from,omitempty"`
	To          string `yaml:"to,omitempty"`
}

// UserAgentLists optionally replaces the built-in benign/hostile substrings.
// Empty lists keep the defaults.
type UserAgentLists struct {
	Benign  []string `yaml:"benign"`
	Hostile []string `yaml:"hostile"`
}

// LoadOverlay reads the YAML overlay. A missing file is not an error; the
// env config stands alone.
func LoadOverlay(path string) (*Overlay, error) {
	if path == "" {
		return &Overlay{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overlay{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var o Overlay
	if err := yaml.NewDecoder(f).Decode(&o); err != nil {
		return nil, err
	}
	return &o, nil
}
