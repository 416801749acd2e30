// Package captive answers every DNS A query with the node's own address so
// that clients on the setup access point land on the setup pages.
package captive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/net/dns/dnsmessage"
)

const ttl = 60

type Responder struct {
	listen string
	logger *slog.Logger

	target atomic.Pointer[netip.Addr]

	mu   sync.Mutex
	conn net.PacketConn
}

func New(listen string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{listen: listen, logger: logger}
}

// Activate starts answering with addr. The socket is bound on the first call
// and served until ctx ends; later calls only change the answer.
func (r *Responder) Activate(ctx context.Context, addr netip.Addr) error {
	if !addr.Is4() {
		return fmt.Errorf("captive: %v is not an IPv4 address", addr)
	}
	r.target.Store(&addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", r.listen)
	if err != nil {
		return fmt.Errorf("captive listen %s: %w", r.listen, err)
	}
	r.conn = conn
	r.logger.Info("captive dns listening", "addr", conn.LocalAddr(), "answer", addr)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go r.serve(conn)
	return nil
}

// LocalAddr is the bound socket address, nil before Activate.
func (r *Responder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Responder) serve(conn net.PacketConn) {
	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("captive dns read", "error", err)
			}
			return
		}
		resp, err := Answer(buf[:n], *r.target.Load())
		if err != nil {
			r.logger.Debug("captive dns drop", "from", from, "error", err)
			continue
		}
		if _, err := conn.WriteTo(resp, from); err != nil {
			r.logger.Warn("captive dns write", "to", from, "error", err)
		}
	}
}

// Answer builds the reply to query. A and ANY questions get addr; every other
// type gets an empty success so clients fall back to IPv4.
func Answer(query []byte, addr netip.Addr) ([]byte, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(query)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Response {
		return nil, errors.New("not a query")
	}

	respHdr := dnsmessage.Header{
		ID:                 hdr.ID,
		Response:           true,
		OpCode:             hdr.OpCode,
		Authoritative:      true,
		RecursionDesired:   hdr.RecursionDesired,
		RecursionAvailable: true,
	}

	q, err := p.Question()
	if err != nil {
		respHdr.RCode = dnsmessage.RCodeFormatError
		b := dnsmessage.NewBuilder(make([]byte, 0, 12), respHdr)
		return b.Finish()
	}

	b := dnsmessage.NewBuilder(make([]byte, 0, 512), respHdr)
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}
	if q.Type == dnsmessage.TypeA || q.Type == dnsmessage.TypeALL {
		err := b.AResource(
			dnsmessage.ResourceHeader{Name: q.Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: ttl},
			dnsmessage.AResource{A: addr.As4()},
		)
		if err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
