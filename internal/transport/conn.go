package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// PacketConn is the subset of net.PacketConn the adapter uses. It lets tests
// run the adapter over MemoryNetwork instead of real sockets.
type PacketConn interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Network opens the two sockets an adapter needs: a group socket that
// receives announcements, and a data socket for everything else.
type Network interface {
	// ListenGroup joins the discovery group and returns a socket bound to it.
	ListenGroup(group string) (PacketConn, error)

	// ListenData opens the unicast socket. Announcements are also sent from it
	// so receivers learn the data address from the datagram source.
	ListenData(addr string) (PacketConn, error)

	// ResolveGroup returns the destination address for announcements.
	ResolveGroup(group string) (net.Addr, error)
}

// UDPNetwork implements Network with IPv4 UDP multicast.
type UDPNetwork struct {
	// Interface restricts multicast to one interface. Empty lets the
	// kernel choose.
	Interface string

	// TTL for outgoing multicast. Zero keeps announcements on the local link.
	TTL int
}

func (u UDPNetwork) iface() (*net.Interface, error) {
	if u.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(u.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", u.Interface, err)
	}
	return ifi, nil
}

// ListenGroup binds the group port and joins the group. The port is bound
// with address reuse so several adapters on one host share it.
func (u UDPNetwork) ListenGroup(group string) (PacketConn, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve discovery group: %w", err)
	}
	if !gaddr.IP.IsMulticast() {
		return nil, fmt.Errorf("discovery group %s is not a multicast address", group)
	}
	ifi, err := u.iface()
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: reuseAddr}
	c, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", gaddr.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on discovery port: %w", err)
	}
	p := ipv4.NewPacketConn(c)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: gaddr.IP}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to join group %s: %w", gaddr.IP, err)
	}
	return c, nil
}

// ListenData opens the unicast socket and configures it for sending
// announcements to the group.
func (u UDPNetwork) ListenData(addr string) (PacketConn, error) {
	c, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on data address: %w", err)
	}
	p := ipv4.NewPacketConn(c)

	ifi, err := u.iface()
	if err != nil {
		c.Close()
		return nil, err
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}
	ttl := u.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := p.SetMulticastTTL(ttl); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	// Two processes on one host must still see each other.
	if err := p.SetMulticastLoopback(true); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to enable multicast loopback: %w", err)
	}
	return c, nil
}

// ResolveGroup resolves the group address.
func (UDPNetwork) ResolveGroup(group string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp4", group)
}

// isTimeout reports whether err is a read deadline expiring.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
