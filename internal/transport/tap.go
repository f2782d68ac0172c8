package transport

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65536

// Tap writes every datagram the adapter sends or receives to a pcap file so
// a session can be inspected later with calibctl or Wireshark.
type Tap struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
}

// NewTap writes a pcap stream to w.
func NewTap(w io.Writer) (*Tap, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	t := &Tap{w: pw}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t, nil
}

// CreateTap creates (or truncates) a pcap file at path.
func CreateTap(path string) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	t, err := NewTap(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Record appends one datagram. Non-UDP addresses are mapped onto loopback
// ports so in-memory sessions still produce a readable capture.
func (t *Tap) Record(src, dst net.Addr, payload []byte, at time.Time) error {
	if t == nil {
		return nil
	}
	s, d := udpAddrOf(src), udpAddrOf(dst)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    s.IP.To4(),
		DstIP:    d.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(s.Port),
		DstPort: layers.UDPPort(d.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("failed to serialise datagram: %w", err)
	}
	data := buf.Bytes()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Close closes the underlying writer when it is closable.
func (t *Tap) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closer.Close()
}

func udpAddrOf(a net.Addr) *net.UDPAddr {
	if u, ok := a.(*net.UDPAddr); ok && u.IP.To4() != nil {
		return u
	}
	port := 0
	if a != nil {
		h := fnv.New32a()
		h.Write([]byte(a.String()))
		port = 1024 + int(h.Sum32()%60000)
	}
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// Datagram is one decoded frame from a capture file.
type Datagram struct {
	Time    time.Time
	Src     string
	Dst     string
	Type    string
	Sender  PeerID
	Name    string
	Service string
	Payload []byte
}

// ErrNotFrame marks UDP payloads that are not session frames.
var ErrNotFrame = errors.New("transport: datagram is not a session frame")

// ReadCapture decodes every UDP datagram in a pcap stream and calls fn for
// each session frame. Other traffic is skipped.
func ReadCapture(r io.Reader, fn func(Datagram) error) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	source := gopacket.NewPacketSource(pr, pr.LinkType())
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		var src, dst string
		if ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			src = fmt.Sprintf("%s:%d", ipLayer.SrcIP, udp.SrcPort)
			dst = fmt.Sprintf("%s:%d", ipLayer.DstIP, udp.DstPort)
		}

		f, err := unmarshalFrame(udp.Payload)
		if err != nil {
			continue
		}
		d := Datagram{
			Time:    packet.Metadata().Timestamp,
			Src:     src,
			Dst:     dst,
			Type:    f.Type.String(),
			Sender:  f.Sender,
			Name:    f.Name,
			Service: f.Service,
			Payload: f.Payload,
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

// DecodeDatagram parses a raw session frame, for example one copied out of
// a capture by another tool.
func DecodeDatagram(b []byte) (Datagram, error) {
	f, err := unmarshalFrame(b)
	if err != nil {
		return Datagram{}, fmt.Errorf("%w: %v", ErrNotFrame, err)
	}
	return Datagram{
		Type:    f.Type.String(),
		Sender:  f.Sender,
		Name:    f.Name,
		Service: f.Service,
		Payload: f.Payload,
	}, nil
}
