// Package wire implements the on-the-wire message formats used by the
// overlay: latency probes, control commands, the client/PoP RPC, frame
// datagrams, and the bootstrap protocol. Each format gets its own
// Parse/Serialize pair, mirroring the split used by the MoQ control codec
// this package is modeled on: one function per wire operation, no shared
// mutable parser state.
package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/overlaynet/overlaynet/internal/errs"
)

// Probe is the timestamp + catalogue message emitted every 10s by probe
// emitters and flooded hop-by-hop by relays. Wire form:
//
//	"<unix_seconds_float>,<video1>,<video2>,..."
type Probe struct {
	SentAt    time.Time
	Catalogue []string
}

// EncodeProbe serializes a Probe to its ASCII wire form.
func EncodeProbe(p Probe) string {
	ts := strconv.FormatFloat(float64(p.SentAt.UnixNano())/1e9, 'f', 6, 64)
	if len(p.Catalogue) == 0 {
		return ts
	}
	return ts + "," + strings.Join(p.Catalogue, ",")
}

// ParseProbe parses the ASCII wire form of a Probe. A bare timestamp
// with no comma is a probe with an empty catalogue. Malformed input (an
// empty payload, or a timestamp field that is not a float) yields an error;
// callers that can't forward the error (e.g. a best-effort receiver) are
// expected to record +Inf latency and a "NO_DATA" catalogue per the
// error-handling design.
func ParseProbe(payload string) (Probe, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Probe{}, &errs.ParseError{Field: "payload", Err: fmt.Errorf("empty")}
	}

	tsField := payload
	var rest string
	if i := strings.IndexByte(payload, ','); i >= 0 {
		tsField = payload[:i]
		rest = payload[i+1:]
	}

	secs, err := strconv.ParseFloat(tsField, 64)
	if err != nil {
		return Probe{}, &errs.ParseError{Field: "timestamp", Err: err}
	}

	p := Probe{SentAt: time.Unix(0, int64(secs*1e9))}
	if rest != "" {
		p.Catalogue = strings.Split(rest, ",")
	}
	return p, nil
}

// LatencyMillis computes the one-way latency in milliseconds of a probe
// observed "now", clamping negative values (caused by clock skew between
// sender and receiver) to 0 per the documented time-source policy.
func LatencyMillis(p Probe, now time.Time) float64 {
	ms := now.Sub(p.SentAt).Seconds() * 1000
	if ms < 0 {
		return 0
	}
	return ms
}
