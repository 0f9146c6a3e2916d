package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPolicyFile is the policy file name searched for when
// A11YSCAN_POLICY_FILE is not set.
const DefaultPolicyFile = ".a11yscan.yaml"

// ErrPolicyNotFound is returned when the policy file does not exist.
var ErrPolicyNotFound = errors.New("policy file not found")

// Policy carries the operator-tunable signal sets. Challenge detection is
// a union of weak heuristics, so deployments facing unusual interstitials
// (or unusually sparse legitimate pages) adjust these lists rather than
// the code. A non-empty list replaces the built-in default wholesale.
type Policy struct {
	Challenge ChallengePolicy `yaml:"challenge"`

	// UserAgents replaces the built-in browser profile pool.
	UserAgents []AgentProfile `yaml:"user_agents"`
}

// ChallengePolicy overrides the challenge detector's string signals.
type ChallengePolicy struct {
	// Phrases are matched case-insensitively against visible text and title.
	Phrases []string `yaml:"phrases"`

	// Keywords strengthen the suspiciously-empty heuristic.
	Keywords []string `yaml:"keywords"`

	// Markers are CSS selectors for challenge/spinner containers.
	Markers []string `yaml:"markers"`
}

// AgentProfile is one rotated browser identity. Header values must stay
// mutually consistent; mismatched UA and Sec-Ch-Ua pairs are themselves
// a bot signal.
type AgentProfile struct {
	UserAgent      string `yaml:"user_agent"`
	AcceptLanguage string `yaml:"accept_language"`
	SecChUA        string `yaml:"sec_ch_ua"`
	Platform       string `yaml:"platform"`
	Mobile         bool   `yaml:"mobile"`
}

// LoadPolicy loads the detection policy from a YAML file.
// If the file does not exist, it returns ErrPolicyNotFound; callers decide
// whether that is fatal based on whether the path was explicit.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPolicyFile resolves the policy file path in order:
// 1. the explicit path, when given
// 2. DefaultPolicyFile in the current directory
// 3. DefaultPolicyFile in the user's home directory
// Returns empty string when nothing is found.
func FindPolicyFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, DefaultPolicyFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, DefaultPolicyFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
