package device

import (
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Type classifies the kind of device a session runs on.
type Type string

const (
	TypeMobile  Type = "mobile"
	TypeTablet  Type = "tablet"
	TypeDesktop Type = "desktop"
)

const fallbackSignal = "basketwire-device"

// Identity describes one device participating in sync. DeviceID is stable for
// the lifetime of the install; the classification fields are recomputed each
// session and never persisted.
type Identity struct {
	DeviceID string `json:"deviceId"`
	Type     Type   `json:"type"`
	Browser  string `json:"browser"`
	OS       string `json:"os"`
}

// Fingerprinter produces a stable fingerprint of the local environment. The
// exact algorithm is not part of the contract, only that the value is stable
// across restarts on the same install and cheap to compute.
type Fingerprinter interface {
	Fingerprint() string
}

// EnvironmentFingerprinter derives a fingerprint from stable runtime signals.
// Reads never fail: any unavailable signal degrades to a fixed fallback.
type EnvironmentFingerprinter struct {
	UserAgent string
}

func (f EnvironmentFingerprinter) Fingerprint() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = fallbackSignal
	}
	signals := []string{
		hostname,
		runtime.GOOS,
		runtime.GOARCH,
		os.Getenv("LANG"),
		os.Getenv("TZ"),
		f.UserAgent,
	}
	return strings.Join(signals, "|")
}

// NewDeviceID hashes the fingerprint to a compact token and appends
// creation-time entropy so two installs with identical environments still
// receive distinct identifiers. The operation has no failure mode.
func NewDeviceID(fingerprinter Fingerprinter, now func() time.Time) string {
	if fingerprinter == nil {
		fingerprinter = EnvironmentFingerprinter{}
	}
	if now == nil {
		now = time.Now
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(fingerprinter.Fingerprint()))
	stamp := strconv.FormatInt(now().UnixMilli(), 36)
	return fmt.Sprintf("device_%s_%s", strconv.FormatUint(uint64(hasher.Sum32()), 36), stamp)
}

// Classify derives device type, browser and OS from a user agent string,
// falling back to the local runtime when the agent string carries no signal.
func Classify(deviceID, userAgent string) Identity {
	identity := Identity{
		DeviceID: deviceID,
		Type:     TypeDesktop,
		Browser:  "Unknown",
		OS:       osFromRuntime(),
	}

	if strings.Contains(userAgent, "iPad") {
		identity.Type = TypeTablet
	} else if containsAny(userAgent, "Mobile", "Android", "iPhone", "iPod", "BlackBerry", "IEMobile", "Opera Mini") {
		identity.Type = TypeMobile
	}

	switch {
	case strings.Contains(userAgent, "Edge"):
		identity.Browser = "Edge"
	case strings.Contains(userAgent, "Chrome"):
		identity.Browser = "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		identity.Browser = "Firefox"
	case strings.Contains(userAgent, "Safari"):
		identity.Browser = "Safari"
	}

	switch {
	case strings.Contains(userAgent, "Windows"):
		identity.OS = "Windows"
	case strings.Contains(userAgent, "Android"):
		identity.OS = "Android"
	case containsAny(userAgent, "iPhone", "iPad", "iOS"):
		identity.OS = "iOS"
	case strings.Contains(userAgent, "Mac"):
		identity.OS = "macOS"
	case strings.Contains(userAgent, "Linux"):
		identity.OS = "Linux"
	}

	return identity
}

func osFromRuntime() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
