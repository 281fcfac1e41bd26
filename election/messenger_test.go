package election

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/krantius/ring-election/shared/logging"
)

func testMessenger(t *testing.T, dir *Directory, dial DialFunc) *Messenger {
	t.Helper()

	return newMessenger(dir, testQuittanceTimeout, dial, logging.ForSite(0))
}

// echoPeer answers every datagram with an echo instead of a quittance
func echoPeer(t *testing.T) net.PacketConn {
	conn := listenLocal(t)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			_, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			conn.WriteTo([]byte{byte(KindEcho)}, addr)
		}
	}()

	return conn
}

func deadAddr(t *testing.T) string {
	conn := listenLocal(t)
	addr := conn.LocalAddr().String()
	conn.Close()

	return addr
}

func TestSendAcked(t *testing.T) {
	acking := newFakePeer(t, false)
	silent := newFakePeer(t, true)
	wrong := echoPeer(t)

	dir := testDirectory(t, acking.addr(), silent.addr(), wrong.LocalAddr().String(), deadAddr(t))

	go acking.serve(Codec{Sites: dir.Len()})
	go silent.serve(Codec{Sites: dir.Len()})

	m := testMessenger(t, dir, nil)

	cases := []struct {
		name        string
		target      int
		unreachable bool
	}{
		{name: "Acknowledged", target: 0},
		{name: "Silent peer times out", target: 1, unreachable: true},
		{name: "Wrong reply", target: 2, unreachable: true},
		{name: "Nothing listening", target: 3, unreachable: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			start := time.Now()
			err := m.SendAcked(Echo{}, dir.Site(c.target), testQuittanceTimeout)

			if c.unreachable != errors.Is(err, ErrUnreachable) {
				t.Errorf("Unexpected result: %v", err)
			}

			if elapsed := time.Since(start); elapsed > 5*testQuittanceTimeout {
				t.Errorf("SendAcked blocked for %v", elapsed)
			}
		})
	}

	if msg := acking.expect(t); msg.Kind() != KindEcho {
		t.Errorf("Acking peer received %s, expected echo", msg.Kind())
	}
}

func TestSendToNextReachable(t *testing.T) {
	peer := newFakePeer(t, false)
	dir := testDirectory(t, deadAddr(t), deadAddr(t), peer.addr())
	go peer.serve(Codec{Sites: dir.Len()})

	m := testMessenger(t, dir, nil)

	msg := Announce{Aptitudes: map[uint8]int32{0: 5}}

	to, err := m.SendToNextReachable(context.Background(), msg, dir.Site(0))
	if err != nil {
		t.Fatalf("SendToNextReachable failed: %v", err)
	}

	if to.Index != 2 {
		t.Errorf("Delivered to %d, expected 2", to.Index)
	}

	got, ok := peer.expect(t).(Announce)
	if !ok || got.Aptitudes[0] != 5 {
		t.Errorf("Peer received %+v", got)
	}
}

func TestSendToNextReachableAllUnreachable(t *testing.T) {
	dir := testDirectory(t, "127.0.0.1:5000", "127.0.0.1:5001", "127.0.0.1:5002")

	attempts := 0
	dial := func(addr *net.UDPAddr, timeout time.Duration) (net.Conn, error) {
		attempts++
		return nil, errors.New("network down")
	}

	m := testMessenger(t, dir, dial)

	_, err := m.SendToNextReachable(context.Background(), Echo{}, dir.Site(1))
	if !errors.Is(err, ErrAllUnreachable) {
		t.Errorf("Expected ErrAllUnreachable, got %v", err)
	}

	if attempts != dir.Len() {
		t.Errorf("Expected one attempt per site, got %d", attempts)
	}
}

func TestSendToNextReachableCanceled(t *testing.T) {
	dir := testDirectory(t, "127.0.0.1:5000")
	m := testMessenger(t, dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.SendToNextReachable(ctx, Echo{}, dir.Site(0)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
