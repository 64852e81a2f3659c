package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/okian/voxmeter/internal/domain/model"
)

const signalSeparator = "\x1f"

func hasHighEntropyExtra(s model.DeviceSignals) bool {
	return s.Platform != "" || s.HardwareConcurrency > 0 || s.DeviceMemoryGB > 0 ||
		s.ColorDepth > 0 || s.TouchPoints > 0
}

// preferredFingerprint hashes every signal. It needs a canvas signature and
// at least one high-entropy extra to be distinctive enough.
func preferredFingerprint(s model.DeviceSignals) (string, error) {
	if strings.TrimSpace(s.CanvasSignature) == "" || !hasHighEntropyExtra(s) {
		return "", errPreferredUnavailable
	}
	parts := []string{
		s.UserAgent,
		s.Screen,
		s.Timezone,
		s.Language,
		s.CanvasSignature,
		s.Platform,
		strconv.Itoa(s.HardwareConcurrency),
		strconv.Itoa(s.DeviceMemoryGB),
		strconv.Itoa(s.ColorDepth),
		strconv.Itoa(s.TouchPoints),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, signalSeparator)))
	return hex.EncodeToString(sum[:]), nil
}

// fallbackFingerprint hashes the four basic signals.
func fallbackFingerprint(s model.DeviceSignals) (string, error) {
	if strings.TrimSpace(s.UserAgent) == "" {
		return "", errFallbackUnavailable
	}
	d := xxhash.New()
	_, _ = d.WriteString(strings.Join([]string{s.UserAgent, s.Screen, s.Timezone, s.CanvasSignature}, signalSeparator))
	return "fb" + strconv.FormatUint(d.Sum64(), 16), nil
}

func randomFingerprint() string {
	u := uuid.New()
	return "rnd" + hex.EncodeToString(u[:])
}

// Fingerprint derives a fingerprint from s, strongest method first. It
// always returns a value; the random method marks the result degraded.
func Fingerprint(s model.DeviceSignals) (string, model.FingerprintMethod) {
	if fp, err := preferredFingerprint(s); err == nil {
		return fp, model.MethodPreferred
	}
	if fp, err := fallbackFingerprint(s); err == nil {
		return fp, model.MethodFallback
	}
	return randomFingerprint(), model.MethodRandom
}
