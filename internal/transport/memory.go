package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// memAddr addresses a socket on a MemoryNetwork.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memPacket struct {
	data []byte
	from net.Addr
}

// MemoryNetwork is an in-process Network. Group sends reach every socket
// that joined the group, including the sender's own group socket, like
// multicast with loopback enabled.
type MemoryNetwork struct {
	mu     sync.Mutex
	next   int
	conns  map[string]*memConn
	groups map[string]map[*memConn]struct{}
	drop   func(from, to net.Addr, b []byte) bool
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		conns:  make(map[string]*memConn),
		groups: make(map[string]map[*memConn]struct{}),
	}
}

// SetDrop installs a loss function. Datagrams for which it returns true are
// silently discarded. Pass nil to deliver everything.
func (n *MemoryNetwork) SetDrop(f func(from, to net.Addr, b []byte) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// ListenGroup joins group.
func (n *MemoryNetwork) ListenGroup(group string) (PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.newConnLocked(fmt.Sprintf("%s#%d", group, n.next))
	members, ok := n.groups[group]
	if !ok {
		members = make(map[*memConn]struct{})
		n.groups[group] = members
	}
	members[c] = struct{}{}
	c.group = group
	return c, nil
}

// ListenData allocates a unicast socket. An empty or port-only addr gets a
// unique generated address.
func (n *MemoryNetwork) ListenData(addr string) (PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if addr == "" || addr[0] == ':' {
		addr = fmt.Sprintf("mem-%d", n.next)
	}
	if _, taken := n.conns[addr]; taken {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	return n.newConnLocked(addr), nil
}

// ResolveGroup returns the group's address.
func (n *MemoryNetwork) ResolveGroup(group string) (net.Addr, error) {
	return memAddr(group), nil
}

func (n *MemoryNetwork) newConnLocked(addr string) *memConn {
	n.next++
	c := &memConn{
		net:    n,
		addr:   memAddr(addr),
		inbox:  make(chan memPacket, 256),
		closed: make(chan struct{}),
	}
	n.conns[addr] = c
	return c
}

func (n *MemoryNetwork) deliver(from *memConn, b []byte, to net.Addr) error {
	n.mu.Lock()
	var targets []*memConn
	if members, ok := n.groups[to.String()]; ok {
		for c := range members {
			targets = append(targets, c)
		}
	} else if c, ok := n.conns[to.String()]; ok {
		targets = append(targets, c)
	}
	drop := n.drop
	n.mu.Unlock()

	for _, c := range targets {
		if drop != nil && drop(from.addr, c.addr, b) {
			continue
		}
		pkt := memPacket{data: append([]byte(nil), b...), from: from.addr}
		select {
		case c.inbox <- pkt:
		case <-c.closed:
		default:
			// Full receive buffer; lost like a real datagram.
		}
	}
	return nil
}

func (n *MemoryNetwork) remove(c *memConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, c.addr.String())
	if c.group != "" {
		delete(n.groups[c.group], c)
	}
}

type memConn struct {
	net   *MemoryNetwork
	addr  memAddr
	group string
	inbox chan memPacket

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *memConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case pkt := <-c.inbox:
		return copy(b, pkt.data), pkt.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (c *memConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if err := c.net.deliver(c, b, addr); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return c.addr }

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.remove(c)
	})
	return nil
}
