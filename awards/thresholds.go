package awards

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	AwardDXCC = "DXCC"
	AwardVUCC = "VUCC"

	// ConfigEnvVar names an explicit thresholds file.
	ConfigEnvVar = "W4GNS_AWARDS_CONFIG"
	// ConfigFilename is looked up under the user config directory.
	ConfigFilename = "awards.json"
	configDirName  = "qsolog"
)

var defaultThresholds = map[string]int{
	AwardDXCC: 100,
	AwardVUCC: 100,
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Thresholds maps an award name to its goal.
type Thresholds map[string]int

// DefaultThresholds returns a fresh copy of the built-in goals.
func DefaultThresholds() Thresholds {
	out := make(Thresholds, len(defaultThresholds))
	for k, v := range defaultThresholds {
		out[k] = v
	}
	return out
}

// Goal returns the goal for award, falling back to the built-in default when
// the entry is missing or not positive.
func (t Thresholds) Goal(award string) int {
	if v, ok := t[award]; ok && v > 0 {
		return v
	}
	return defaultThresholds[award]
}

// LoadThresholds reads a JSON object of award name to positive integer goal.
// Keys are upper-cased; non-integer or non-positive entries are ignored and
// unknown awards are kept. A nil reader or malformed JSON yields the defaults.
func LoadThresholds(r io.Reader) Thresholds {
	out := DefaultThresholds()
	if r == nil {
		return out
	}
	var raw map[string]jsoniter.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return out
	}
	for k, v := range raw {
		goal, err := strconv.Atoi(strings.TrimSpace(string(v)))
		if err != nil || goal <= 0 {
			continue
		}
		out[strings.ToUpper(k)] = goal
	}
	return out
}

// LoadThresholdsFile loads thresholds from path; a missing or unreadable file
// yields the defaults.
func LoadThresholdsFile(path string) Thresholds {
	if strings.TrimSpace(path) == "" {
		return DefaultThresholds()
	}
	f, err := os.Open(path)
	if err != nil {
		return DefaultThresholds()
	}
	defer f.Close()
	return LoadThresholds(f)
}

// ThresholdsPath resolves the thresholds file: the W4GNS_AWARDS_CONFIG
// environment variable when set, otherwise awards.json in the user config
// directory.
func ThresholdsPath() (string, error) {
	if env := strings.TrimSpace(os.Getenv(ConfigEnvVar)); env != "" {
		return expandHome(env), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configDirName, ConfigFilename), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
