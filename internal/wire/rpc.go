package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/overlaynet/overlaynet/internal/errs"
)

// LatencyRequest is the fixed ASCII request a client sends to a PoP's
// client-RPC port.
const LatencyRequest = "LATENCY_REQUEST"

// NoData is returned by a PoP whose neighbour score table holds no
// entry with a finite latency.
const NoData = "NO_DATA"

// LatencyResponse is the PoP's reply to a LATENCY_REQUEST: its own
// best-known upstream latency, its current wall clock, and its
// advertised catalogue. Wire form: "<latency_ms>,<now_float>,<catalogue_csv>".
type LatencyResponse struct {
	LatencyMillis float64
	Now           float64 // unix seconds, float
	Catalogue     []string
}

// EncodeLatencyResponse serializes a LatencyResponse, or NoData if hasData
// is false.
func EncodeLatencyResponse(r LatencyResponse, hasData bool) string {
	if !hasData {
		return NoData
	}
	lat := strconv.FormatFloat(r.LatencyMillis, 'f', 3, 64)
	now := strconv.FormatFloat(r.Now, 'f', 6, 64)
	return lat + "," + now + "," + strings.Join(r.Catalogue, ",")
}

// ParseLatencyResponse parses a PoP's reply to LATENCY_REQUEST. Returns
// hasData=false (no error) for the literal "NO_DATA" response.
func ParseLatencyResponse(payload string) (resp LatencyResponse, hasData bool, err error) {
	payload = strings.TrimSpace(payload)
	if payload == NoData {
		return LatencyResponse{}, false, nil
	}

	parts := strings.SplitN(payload, ",", 3)
	if len(parts) < 2 {
		return LatencyResponse{}, false, &errs.ParseError{Field: "payload", Err: fmt.Errorf("expected at least 2 fields, got %d", len(parts))}
	}

	lat, perr := strconv.ParseFloat(parts[0], 64)
	if perr != nil {
		return LatencyResponse{}, false, &errs.ParseError{Field: "latency_ms", Err: perr}
	}
	now, perr := strconv.ParseFloat(parts[1], 64)
	if perr != nil {
		return LatencyResponse{}, false, &errs.ParseError{Field: "now", Err: perr}
	}

	resp = LatencyResponse{LatencyMillis: lat, Now: now}
	if len(parts) == 3 && parts[2] != "" {
		resp.Catalogue = strings.Split(parts[2], ",")
	}
	return resp, true, nil
}

// IsFinite reports whether a latency value is usable for comparison
// (not +Inf, not NaN).
func IsFinite(latencyMillis float64) bool {
	return !math.IsInf(latencyMillis, 0) && !math.IsNaN(latencyMillis)
}
