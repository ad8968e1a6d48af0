package wire

import "strings"

// BootstrapHello is the fixed request a node sends to the bootstrap
// service on startup.
const BootstrapHello = "Hello, Server!"

// BootstrapError is the bootstrap service's reply when the caller's IP
// has no configured neighbour list.
const BootstrapError = "ERROR"

// EncodeBootstrapResponse serializes a neighbour IP list as the
// comma-separated reply the bootstrap service sends back.
func EncodeBootstrapResponse(neighbours []string) string {
	if len(neighbours) == 0 {
		return BootstrapError
	}
	return strings.Join(neighbours, ", ")
}

// ParseBootstrapResponse parses the bootstrap service's reply. Returns
// ok=false for the literal ERROR response.
func ParseBootstrapResponse(payload string) (neighbours []string, ok bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == BootstrapError {
		return nil, false
	}
	for _, ip := range strings.Split(payload, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			neighbours = append(neighbours, ip)
		}
	}
	if len(neighbours) == 0 {
		return nil, false
	}
	return neighbours, true
}
