package captive

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"envnode/internal/logging"
)

func query(t *testing.T, name string, typ dnsmessage.Type) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 0xBEEF, RecursionDesired: true})
	if err := b.StartQuestions(); err != nil {
		t.Fatal(err)
	}
	if err := b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  typ,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestAnswer_A(t *testing.T) {
	addr := netip.MustParseAddr("192.168.4.1")
	resp, err := Answer(query(t, "connectivitycheck.gstatic.com.", dnsmessage.TypeA), addr)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	var msg dnsmessage.Message
	if err := msg.Unpack(resp); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if msg.ID != 0xBEEF || !msg.Response || msg.RCode != dnsmessage.RCodeSuccess {
		t.Fatalf("header = %+v", msg.Header)
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("answers = %d; want 1", len(msg.Answers))
	}
	a, ok := msg.Answers[0].Body.(*dnsmessage.AResource)
	if !ok || netip.AddrFrom4(a.A) != addr {
		t.Fatalf("answer = %+v; want %v", msg.Answers[0].Body, addr)
	}
}

func TestAnswer_AAAAIsEmpty(t *testing.T) {
	resp, err := Answer(query(t, "example.com.", dnsmessage.TypeAAAA), netip.MustParseAddr("10.0.0.1"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(resp); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if msg.RCode != dnsmessage.RCodeSuccess || len(msg.Answers) != 0 {
		t.Fatalf("rcode %v answers %d; want empty success", msg.RCode, len(msg.Answers))
	}
}

func TestAnswer_garbage(t *testing.T) {
	if _, err := Answer([]byte{1, 2, 3}, netip.MustParseAddr("10.0.0.1")); err == nil {
		t.Fatal("Answer(garbage) = nil error")
	}
}

func TestResponder_UDP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New("127.0.0.1:0", logging.Discard())
	if err := r.Activate(ctx, netip.MustParseAddr("192.168.4.1")); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	conn, err := net.Dial("udp4", r.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write(query(t, "apple.com.", dnsmessage.TypeA)); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg dnsmessage.Message
	if err := msg.Unpack(buf[:n]); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("answers = %d; want 1", len(msg.Answers))
	}

	if err := r.Activate(ctx, netip.MustParseAddr("fe80::1")); err == nil {
		t.Error("Activate(IPv6) = nil error")
	}
}
