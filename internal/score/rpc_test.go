package score

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestRPCResponderAnswersWithBestEntry(t *testing.T) {
	t.Parallel()
	table := NewTable()
	table.Update("10.0.0.1", 12.5, []string{"clipA", "clipB"}, time.Now())

	port := freeUDPPort(t)
	r := NewRPCResponder(port, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte(wire.LatencyRequest))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	resp, hasData, err := wire.ParseLatencyResponse(string(buf[:n]))
	if err != nil {
		t.Fatalf("ParseLatencyResponse: %v", err)
	}
	if !hasData {
		t.Fatal("expected hasData=true")
	}
	if resp.LatencyMillis != 12.5 {
		t.Errorf("LatencyMillis = %v, want 12.5", resp.LatencyMillis)
	}
	if len(resp.Catalogue) != 2 {
		t.Errorf("Catalogue = %v, want 2 entries", resp.Catalogue)
	}
}

func TestRPCResponderIgnoresUnknownPayload(t *testing.T) {
	t.Parallel()
	table := NewTable()
	port := freeUDPPort(t)
	r := NewRPCResponder(port, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("GARBAGE"))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 256)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected no response to an unrecognized payload")
	}
}

func TestRPCResponderRespondsNoDataWhenTableEmpty(t *testing.T) {
	t.Parallel()
	table := NewTable()
	port := freeUDPPort(t)
	r := NewRPCResponder(port, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte(wire.LatencyRequest))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != wire.NoData {
		t.Errorf("response = %q, want %q", buf[:n], wire.NoData)
	}
}
