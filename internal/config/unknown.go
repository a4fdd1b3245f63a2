package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownTopKeys are the valid top-level keys and section names. Sorted for
// deterministic suggestions when two candidates have the same distance.
var knownTopKeys = []string{"auth", "data_dir", "logging", "network", "providers", "queue", "serve", "watch"}

// knownSectionKeys lists the valid keys of each fixed section, sorted.
var knownSectionKeys = map[string][]string{
	"auth":    {"callback_port", "refresh_margin"},
	"logging": {"log_format", "log_level"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
	"queue": {
		"bandwidth_limit", "max_auto_retries", "pump_interval",
		"retry_base_delay", "retry_max_delay", "verify_uploads",
	},
	"serve": {"listen"},
	"watch": {"dir", "extensions", "ignore", "provider", "remote_dir", "settle"},
}

// knownProviderKeys are the valid keys inside a [providers.<id>] section.
var knownProviderKeys = []string{"client_id", "client_secret", "folder_template", "simple_upload_limit"}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest valid
// key at the same level.
func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) == 1:
		return withSuggestion(fmt.Sprintf("unknown config key %q", key[0]), key[0], knownTopKeys)
	case key[0] == "providers" && len(key) >= 3:
		return withSuggestion(
			fmt.Sprintf("unknown config key %q in [providers.%s]", key[2], key[1]), key[2], knownProviderKeys)
	default:
		if known, ok := knownSectionKeys[key[0]]; ok {
			return withSuggestion(fmt.Sprintf("unknown config key %q in [%s]", key[1], key[0]), key[1], known)
		}

		return fmt.Errorf("unknown config key %q", strings.Join(key, "."))
	}
}

func withSuggestion(msg, unknown string, known []string) error {
	if suggestion := closestMatch(unknown, known); suggestion != "" {
		return fmt.Errorf("%s; did you mean %q?", msg, suggestion)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization: two rows instead of a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
