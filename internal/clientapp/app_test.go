package clientapp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func newObservedProber(pop string, latency float64, catalogue []string) *Prober {
	p := NewProber(pop, 0)
	p.hasData = true
	p.samples = []float64{latency}
	p.catalogue = catalogue
	return p
}

func TestBestPoPPicksLowestLatency(t *testing.T) {
	t.Parallel()
	app := &App{
		probers: []*Prober{
			newObservedProber("10.0.0.1", 50, []string{"clipA"}),
			newObservedProber("10.0.0.2", 10, []string{"clipB"}),
			newObservedProber("10.0.0.3", 30, nil),
		},
	}

	best, ok := app.bestPoP()
	if !ok || best != "10.0.0.2" {
		t.Errorf("bestPoP() = (%q, %v), want (10.0.0.2, true)", best, ok)
	}
}

func TestBestPoPIgnoresProbersWithoutData(t *testing.T) {
	t.Parallel()
	stale := NewProber("10.0.0.9", 0)
	app := &App{probers: []*Prober{stale}}

	if _, ok := app.bestPoP(); ok {
		t.Error("bestPoP() should report false when no prober has data")
	}
}

func TestCatalogueUnionDeduplicates(t *testing.T) {
	t.Parallel()
	app := &App{
		probers: []*Prober{
			newObservedProber("10.0.0.1", 50, []string{"clipA", "clipB"}),
			newObservedProber("10.0.0.2", 10, []string{"clipB", "clipC"}),
		},
	}

	cat := app.Catalogue()
	seen := map[string]bool{}
	for _, name := range cat {
		seen[name] = true
	}
	if len(cat) != 3 || !seen["clipA"] || !seen["clipB"] || !seen["clipC"] {
		t.Errorf("Catalogue() = %v, want the union of clipA/clipB/clipC with no duplicates", cat)
	}
}

func TestReselectSendsStopThenStartAndRebindsReceiver(t *testing.T) {
	t.Parallel()

	port, oldLn, newLn := distinctAppUpstreamPair(t)
	oldReceived := acceptAndRecord(t, oldLn)
	newReceived := acceptAndRecord(t, newLn)

	app := NewApp(nil, 0, port, 0, nil)
	app.ChooseVideo("clipA")
	app.probers = []*Prober{newObservedProber("127.0.0.1", 50, nil)}

	app.reselectOnce(context.Background())

	select {
	case msg := <-oldReceived:
		if msg != "START_STREAM clipA" {
			t.Fatalf("first selection sent %q, want START_STREAM clipA", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial START_STREAM")
	}

	app.probers = []*Prober{newObservedProber("127.0.0.2", 1, nil)}
	app.reselectOnce(context.Background())

	select {
	case msg := <-oldReceived:
		if msg != "STOP_STREAM clipA" {
			t.Errorf("old PoP received %q, want STOP_STREAM clipA", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for STOP_STREAM to old PoP")
	}
	select {
	case msg := <-newReceived:
		if msg != "START_STREAM clipA" {
			t.Errorf("new PoP received %q, want START_STREAM clipA", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for START_STREAM to new PoP")
	}

	app.receiver.mu.Lock()
	source := app.receiver.sourceIP
	app.receiver.mu.Unlock()
	if source != "127.0.0.2" {
		t.Errorf("receiver source = %q, want 127.0.0.2 after reselection", source)
	}
}

func distinctAppUpstreamPair(t *testing.T) (port int, oldLn, newLn net.Listener) {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		probe, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		p := probe.Addr().(*net.TCPAddr).Port
		probe.Close()

		a, errA := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if errA != nil {
			continue
		}
		b, errB := net.Listen("tcp", fmt.Sprintf("127.0.0.2:%d", p))
		if errB != nil {
			a.Close()
			continue
		}
		return p, a, b
	}
	t.Fatal("could not find a port free on both 127.0.0.1 and 127.0.0.2")
	return 0, nil, nil
}

func acceptAndRecord(t *testing.T, ln net.Listener) chan string {
	t.Helper()
	received := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				n, _ := c.Read(buf)
				if n > 0 {
					received <- string(buf[:n])
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return received
}
