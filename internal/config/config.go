// Package config provides the CLI flag + environment-variable fallback
// helpers every cmd/* binary uses to configure itself.
package config

import (
	"os"
	"strconv"
)

// EnvPrefix is prepended to every field name when falling back to an
// environment variable, so OVERLAYNET_CONTROL_PORT overrides an unset
// --control-port flag.
const EnvPrefix = "OVERLAYNET_"

// StringOr returns the flag value if it is non-empty, else the
// OVERLAYNET_<field> environment variable, else fallback.
func StringOr(flagValue, field, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvPrefix + field); v != "" {
		return v
	}
	return fallback
}

// IntOr returns the flag value if it is non-zero, else the parsed
// OVERLAYNET_<field> environment variable, else fallback.
func IntOr(flagValue int, field string, fallback int) int {
	if flagValue != 0 {
		return flagValue
	}
	if v := os.Getenv(EnvPrefix + field); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// StringListOr splits the OVERLAYNET_<field> environment variable on
// commas if flagValues is empty, else returns flagValues as-is.
func StringListOr(flagValues []string, field string) []string {
	if len(flagValues) > 0 {
		return flagValues
	}
	v := os.Getenv(EnvPrefix + field)
	if v == "" {
		return nil
	}
	return splitNonEmpty(v, ',')
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if s[start:i] != "" {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if s[start:] != "" {
		out = append(out, s[start:])
	}
	return out
}

// Default ports for the overlay's fixed port assignment.
const (
	DefaultBootstrapPort = 12222 // TCP, bootstrap neighbour query
	DefaultDataPort      = 12345 // UDP, FramePacket streaming
	DefaultControlPort   = 13333 // TCP, START_STREAM/STOP_STREAM/HEARTBEAT
	DefaultProbePort     = 13334 // TCP, latency probes between nodes
	DefaultRPCPort       = 13335 // UDP, client<->PoP latency/catalogue RPC

	DefaultAdminAddr = ":4444" // disabled entirely when set to ""
)
