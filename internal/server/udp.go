package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/iuup"
)

// UDPListener decodes live IuUP datagrams into the server's session.
// Datagrams are decoded in arrival order by a single processor so an
// Initialization is always seen before the data frames that follow it.
type UDPListener struct {
	srv        *Server
	addr       string
	bufferSize int
	conn       *net.UDPConn

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	packets chan *datagram

	// OnResult, when set before Start, observes every decoded datagram.
	OnResult func(remote *net.UDPAddr, res *iuup.Result, err error)

	received  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
}

type datagram struct {
	data   []byte
	remote *net.UDPAddr
}

func NewUDPListener(srv *Server, addr string, bufferSize int) *UDPListener {
	ctx, cancel := context.WithCancel(context.Background())
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &UDPListener{
		srv:        srv,
		addr:       addr,
		bufferSize: bufferSize,
		ctx:        ctx,
		cancel:     cancel,
		packets:    make(chan *datagram, 1000),
	}
}

// Start begins listening for datagrams
func (l *UDPListener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve udp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	l.conn = conn
	if err := conn.SetReadBuffer(l.bufferSize); err != nil {
		common.Logf("udp: set read buffer %d: %v", l.bufferSize, err)
	}
	common.Logf("udp listener on %s", conn.LocalAddr())

	l.wg.Add(2)
	go l.process()
	go l.receiveLoop()
	return nil
}

// Addr returns the bound local address once started.
func (l *UDPListener) Addr() *net.UDPAddr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Stop closes the socket and waits for queued datagrams to be decoded.
func (l *UDPListener) Stop() error {
	l.cancel()
	var err error
	if l.conn != nil {
		err = l.conn.Close()
	}
	l.wg.Wait()
	common.Logf("udp listener stopped: received=%d processed=%d dropped=%d",
		l.received.Load(), l.processed.Load(), l.dropped.Load())
	return err
}

func (l *UDPListener) receiveLoop() {
	defer l.wg.Done()
	defer close(l.packets)
	buf := make([]byte, l.bufferSize)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if l.ctx.Err() != nil {
				return
			}
		}
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if l.ctx.Err() != nil {
					return
				}
				continue
			}
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			common.Logf("udp: read: %v", err)
			continue
		}
		l.received.Add(1)
		if l.srv.metrics != nil {
			l.srv.metrics.RecordDatagram()
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case l.packets <- &datagram{data: data, remote: remote}:
		default:
			l.dropped.Add(1)
			common.Logf("udp: queue full, dropping %d bytes from %s", n, remote)
		}
	}
}

func (l *UDPListener) process() {
	defer l.wg.Done()
	local := l.Addr()
	for d := range l.packets {
		payload := d.data
		if l.srv.opts.RTP {
			var p rtp.Packet
			if err := p.Unmarshal(payload); err != nil {
				l.report(d.remote, nil, fmt.Errorf("rtp: %w", err))
				continue
			}
			payload = p.Payload
		}
		res, err := l.srv.Decode(payload, udpConversation(d.remote, local), l.srv.opts.Heuristic, nil)
		l.report(d.remote, res, err)
	}
}

func (l *UDPListener) report(remote *net.UDPAddr, res *iuup.Result, err error) {
	l.processed.Add(1)
	if err != nil {
		common.Logf("udp %s: %v", remote, err)
	}
	if l.OnResult != nil {
		l.OnResult(remote, res, err)
	}
}
