// Package srtsource lets an origin pull a live SRT feed as the raw
// byte source handed to a video's frame emitter, instead of (or
// alongside) a looped local file.
//
// Frame generation/decode itself lives outside this package; only the
// wire contract (successive byte chunks handed to the emitter) is
// implemented here. Each SRT socket read is handed straight to the
// emitter as one frame payload, exactly as internal/catalog.LoopFileSource
// hands a whole .jpg file across; actual container demux is out of
// scope.
package srtsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// readBufferSize is 10 SRT payloads' worth of buffer (1316 bytes is 7
// MPEG-TS packets, the standard SRT payload size).
const readBufferSize = 1316 * 10

// srtLatency is the SRT receiver latency buffer.
const srtLatency = 120 * time.Millisecond

// dialTimeout bounds the initial connection attempt.
const dialTimeout = 10 * time.Second

// Source is a fanout.FrameSource backed by a pulled SRT connection.
type Source struct {
	log  *slog.Logger
	conn *srtgo.Conn
	buf  []byte
}

// Dial connects to a remote SRT listener at address, identifying
// itself with streamID, and returns a Source ready for NextFrame.
func Dial(ctx context.Context, address, streamID string) (*Source, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatency.Nanoseconds()
	cfg.StreamID = streamID

	type dialResult = struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", address, res.err)
		}
		return &Source{
			log:  slog.With("component", "srt-source", "address", address),
			conn: res.conn,
			buf:  make([]byte, readBufferSize),
		}, nil
	case <-timer.C:
		go drainAndClose(ch)
		return nil, fmt.Errorf("SRT dial %s timed out after %s", address, dialTimeout)
	case <-ctx.Done():
		go drainAndClose(ch)
		return nil, ctx.Err()
	}
}

func drainAndClose(ch <-chan struct {
	conn *srtgo.Conn
	err  error
}) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

// NextFrame reads one SRT payload and returns it as the next frame's
// raw bytes, satisfying fanout.FrameSource.
func (s *Source) NextFrame(ctx context.Context) ([]byte, error) {
	type readResult struct {
		n   int
		err error
	}
	ch := make(chan readResult, 1)
	go func() {
		n, err := s.conn.Read(s.buf)
		ch <- readResult{n, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("SRT read: %w", res.err)
		}
		out := make([]byte, res.n)
		copy(out, s.buf[:res.n])
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the underlying SRT connection.
func (s *Source) Close() error {
	return s.conn.Close()
}
