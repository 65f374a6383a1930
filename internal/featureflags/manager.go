// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// OtpResendRotation makes an OTP resend issue a fresh code instead of
// redelivering the original one. Off unless configured.
const OtpResendRotation = "otp_resend_rotation"

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "otp_resend_rotation=on,strict_gate=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
// Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return &Manager{flags: out}
}

// Enabled reports whether name is on for subject (a request or user id).
// Values: on/true/1, off/false/0, or N% for a deterministic rollout by subject.
func (m *Manager) Enabled(name string, subject uint) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil, pct <= 0:
		return false
	case pct >= 100:
		return true
	case subject == 0:
		return false
	}
	return bucket(name, subject) < pct
}

// Snapshot returns evaluated flag status for one subject.
func (m *Manager) Snapshot(subject uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, subject)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, subject uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), subject)))
	return int(h.Sum32() % 100)
}
