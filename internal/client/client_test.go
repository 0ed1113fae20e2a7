package client

import (
	"context"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"doorknock/internal/config"
	"doorknock/internal/log"
	"doorknock/internal/porthop"
)

var fixedNow = time.Unix(1_750_000_000, 0)

func newTestClient(t *testing.T, protocol string) *Client {
	t.Helper()

	cfg := config.ClientConfig{
		ServerHost: "127.0.0.1",
		Knock: config.KnockConfig{
			Secret:    "client test",
			Ports:     3,
			Protocol:  protocol,
			PortRange: config.PortRange{Min: 47000, Max: 47999},
		},
		KnockDelayMS: 20,
	}
	if err := cfg.Knock.Prepare(); err != nil {
		t.Fatal(err)
	}
	c := New(cfg, log.Discard())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestDoorsMatchDerivation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "")
	got, step, err := c.Doors()
	if err != nil {
		t.Fatal(err)
	}
	p := c.cfg.Knock.Params()
	if step != porthop.StepIndex(fixedNow, p.RotateSeconds) {
		t.Fatalf("step %d", step)
	}
	want, err := porthop.Generate(c.cfg.Knock.Digest(), p, step)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestKnockUDP(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "udp")
	doors, _, err := c.Doors()
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []uint16
	done := make(chan struct{}, len(doors))
	opened := map[uint16]struct{}{}
	for _, d := range doors {
		if _, ok := opened[d.Port]; ok {
			continue
		}
		opened[d.Port] = struct{}{}
		pc, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", itoa(int(d.Port))))
		if err != nil {
			t.Skipf("door port busy: %v", err)
		}
		defer pc.Close()
		go func(port uint16, pc net.PacketConn) {
			buf := make([]byte, 16)
			for {
				if _, _, err := pc.ReadFrom(buf); err != nil {
					return
				}
				mu.Lock()
				seen = append(seen, port)
				mu.Unlock()
				done <- struct{}{}
			}
		}(d.Port, pc)
	}

	if err := c.Knock(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range doors {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for knocks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := make([]uint16, len(doors))
	for i, d := range doors {
		want[i] = d.Port
	}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("knocked %v, want %v", seen, want)
	}
}

func TestKnockSkipsICMP(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "icmp")
	if err := c.Knock(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestKnockClosedTCPDoorIsNotAnError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "tcp")
	c.delay = 0
	if err := c.Knock(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestKnockHonoursCancel(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "udp")
	c.delay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Knock(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
