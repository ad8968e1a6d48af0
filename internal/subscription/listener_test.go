package subscription

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func dialAndSend(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.Close()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestListenerAppliesStartStopHeartbeat(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	tbl := NewTable(sink)
	port := freePort(t)
	l := NewListener(port, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	dialAndSend(t, port, "START_STREAM clipA")
	time.Sleep(50 * time.Millisecond)
	if subs := tbl.Subscribers("clipA"); len(subs) != 1 {
		t.Fatalf("Subscribers(clipA) = %v, want 1", subs)
	}
	if len(sink.started) != 1 {
		t.Errorf("started = %v, want one StartUpstream call", sink.started)
	}

	dialAndSend(t, port, "HEARTBEAT")
	time.Sleep(50 * time.Millisecond)

	dialAndSend(t, port, "STOP_STREAM clipA")
	time.Sleep(50 * time.Millisecond)
	if subs := tbl.Subscribers("clipA"); len(subs) != 0 {
		t.Errorf("Subscribers(clipA) = %v, want empty after STOP_STREAM", subs)
	}
	if len(sink.stopped) != 1 {
		t.Errorf("stopped = %v, want one StopUpstream call", sink.stopped)
	}
}

func TestListenerAppliesStartStreamOverUDP(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	tbl := NewTable(sink)
	port := freePort(t)
	l := NewListener(port, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("START_STREAM clipA")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if subs := tbl.Subscribers("clipA"); len(subs) != 1 {
		t.Fatalf("Subscribers(clipA) = %v, want 1 after a UDP START_STREAM", subs)
	}
	if len(sink.started) != 1 {
		t.Errorf("started = %v, want one StartUpstream call", sink.started)
	}
}

func TestListenerIgnoresMalformedCommand(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	tbl := NewTable(sink)
	port := freePort(t)
	l := NewListener(port, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	dialAndSend(t, port, "NOT_A_COMMAND whatever")
	time.Sleep(50 * time.Millisecond)

	if len(sink.started) != 0 || len(sink.stopped) != 0 {
		t.Errorf("sink = %+v, want no callbacks from a malformed command", sink)
	}
	if videos := tbl.ActiveVideos(); len(videos) != 0 {
		t.Errorf("ActiveVideos() = %v, want none", videos)
	}
}

// TestRunSweepEvictsAfterHeartbeatTimeout reproduces the heartbeat
// eviction scenario: a subscriber that stops sending HEARTBEAT is
// dropped from the subscriber set roughly HeartbeatTimeout after its
// last one, triggering an upstream STOP_STREAM.
func TestRunSweepEvictsAfterHeartbeatTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the real HeartbeatTimeout wall-clock window")
	}
	t.Parallel()
	sink := &recordingSink{}
	tbl := NewTable(sink)
	tbl.Subscribe("clipA", "10.0.0.1", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunSweep(ctx, tbl)

	deadline := time.Now().Add(HeartbeatTimeout + 2*time.Second)
	for time.Now().Before(deadline) {
		if len(tbl.Subscribers("clipA")) == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if subs := tbl.Subscribers("clipA"); len(subs) != 0 {
		t.Fatalf("Subscribers(clipA) = %v, want empty after sweep past HeartbeatTimeout", subs)
	}
	if len(sink.stopped) != 1 || sink.stopped[0] != "clipA" {
		t.Errorf("stopped = %v, want exactly one StopUpstream(clipA)", sink.stopped)
	}
}
