package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	preferredSourceKey = "PREFERRED_SOURCE"
	useVMKey           = "USE_VM"
)

// RuntimePreferences are the two operator-settable overrides the descriptor's
// substrate hint defers to: an explicit source-type preference and whether
// to force microVM isolation. Both are optional; a zero value means "not set".
type RuntimePreferences struct {
	PreferredSource string
	PreferredSet    bool
	UseVM           bool
	UseVMSet        bool
}

// LoadRuntimePreferences reads operator overrides from the process environment.
func LoadRuntimePreferences() RuntimePreferences {
	var prefs RuntimePreferences
	if v, ok := os.LookupEnv(preferredSourceKey); ok {
		if src, ok := parseSourceType(v); ok {
			prefs.PreferredSource = src
			prefs.PreferredSet = true
		}
	}
	if v, ok := os.LookupEnv(useVMKey); ok {
		if b, ok := parseBool(v); ok {
			prefs.UseVM = b
			prefs.UseVMSet = true
		}
	}
	return prefs
}

// WriteRuntimePreferences persists prefs into the env file at path,
// preserving unrelated lines and ordering.
func WriteRuntimePreferences(path string, prefs RuntimePreferences) error {
	updates := map[string]string{}
	if prefs.PreferredSet {
		updates[preferredSourceKey] = prefs.PreferredSource
	}
	if prefs.UseVMSet {
		updates[useVMKey] = strconv.FormatBool(prefs.UseVM)
	}
	if len(updates) == 0 {
		return nil
	}
	return writeEnvEntries(path, updates)
}

func parseSourceType(v string) (string, bool) {
	switch strings.ToLower(v) {
	case "native", "container", "wasm":
		return strings.ToLower(v), true
	default:
		return "", false
	}
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

type envLine struct {
	key, value string
	raw        string
	isEntry    bool
}

func writeEnvEntries(path string, updates map[string]string) error {
	var lines []envLine
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, parseEnvLine(scanner.Text()))
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	remaining := make(map[string]string, len(updates))
	for k, v := range updates {
		remaining[k] = v
	}
	for i, line := range lines {
		if line.isEntry {
			if v, ok := remaining[line.key]; ok {
				lines[i].value = v
				delete(remaining, line.key)
			}
		}
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, envLine{key: k, value: remaining[k], isEntry: true})
	}

	var b strings.Builder
	for _, line := range lines {
		if line.isEntry {
			fmt.Fprintf(&b, "%s=%s\n", line.key, line.value)
		} else {
			b.WriteString(line.raw)
			b.WriteByte('\n')
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func parseEnvLine(line string) envLine {
	if key, value, ok := strings.Cut(line, "="); ok {
		return envLine{key: strings.TrimSpace(key), value: strings.TrimSpace(value), isEntry: true}
	}
	return envLine{raw: line}
}
