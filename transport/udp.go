// Package transport provides the reference net.PacketConn-backed Transport
// the Session Service dispatches through: a dedicated goroutine blocks in
// ReadFromUDP and forwards each datagram onto a channel, leaving every
// other concern to the caller.
package transport

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover"
)

// maxPacketSize bounds a single discv5 datagram; packets larger than this
// are never produced by this module and are dropped on read.
const maxPacketSize = 1280

// UDPTransport implements discover.Transport over a real UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	log  xlog.Logger

	packets chan discover.InboundPacket

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// Listen opens a UDP socket on addr and returns a Transport ready to Start.
func Listen(addr netip.AddrPort, log xlog.Logger) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}
	return &UDPTransport{
		conn:    conn,
		log:     log,
		packets: make(chan discover.InboundPacket, 256),
		closeCh: make(chan struct{}),
	}, nil
}

// Start launches the read loop. It never blocks.
func (t *UDPTransport) Start() error {
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (t *UDPTransport) Stop() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)
		err = t.conn.Close()
	})
	t.wg.Wait()
	return err
}

// Send writes data to dst. Like a real UDP socket, delivery is not
// guaranteed; the Session Service's retransmission is what compensates.
func (t *UDPTransport) Send(dst netip.AddrPort, data []byte) error {
	_, err := t.conn.WriteToUDPAddrPort(data, dst)
	return err
}

// Packets returns the channel inbound datagrams are delivered on.
func (t *UDPTransport) Packets() <-chan discover.InboundPacket {
	return t.packets
}

// readLoop runs in its own goroutine, reading packets off the socket and
// forwarding them to the Session Service's dispatch loop.
func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug("UDP read error", "err", err)
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case t.packets <- discover.InboundPacket{From: from, Data: pkt}:
		case <-t.closeCh:
			return
		}
	}
}
