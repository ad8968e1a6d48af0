package fanout

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

type staticSubs struct {
	byVideo map[string][]string
}

func (s staticSubs) Subscribers(video string) []string { return s.byVideo[video] }

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

func udpListener(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

// In production a relay re-sends on the same streaming port it
// receives on, since every node in the overlay shares one configured
// port number. On a single test host the demux and its "subscriber"
// can't both bind that same port, so these tests point Demux.sendPort
// at the subscriber listener's ephemeral port directly.

func TestDemuxForwardsRecognizedVideoID(t *testing.T) {
	t.Parallel()
	subConn, subPort := udpListener(t)

	subs := staticSubs{byVideo: map[string][]string{"clipA": {"127.0.0.1"}}}
	demuxPort := freeUDPPort(t)
	d := NewDemux(demuxPort, subs)
	d.sendPort = subPort

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	pkt := wire.EncodeFrame(wire.FramePacket{VideoID: "clipA", PacketID: 0, FrameSize: 4, Payload: []byte("data")})

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", demuxPort))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, wire.MaxDatagram)
	subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := subConn.Read(buf)
	if err != nil {
		t.Fatalf("expected forwarded datagram: %v", err)
	}
	if string(buf[:n]) != string(pkt) {
		t.Error("forwarded datagram does not match original")
	}
}

func TestDemuxDropsUnknownVideoID(t *testing.T) {
	t.Parallel()
	subConn, subPort := udpListener(t)

	subs := staticSubs{byVideo: map[string][]string{}}
	demuxPort := freeUDPPort(t)
	d := NewDemux(demuxPort, subs)
	d.sendPort = subPort

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	pkt := wire.EncodeFrame(wire.FramePacket{VideoID: "unknownClip", PacketID: 0, FrameSize: 4, Payload: []byte("data")})
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", demuxPort))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write(pkt)

	subConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, wire.MaxDatagram)
	if _, err := subConn.Read(buf); err == nil {
		t.Fatal("expected no datagram forwarded for an unknown video ID")
	}
}
