package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net"
	"os"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/elmscope/elmscope/pkg/packet"
)

// DefaultELMPort is the TCP port WiFi ELM327 adapters listen on.
const DefaultELMPort = 35000

// PCAP reads TCP payloads to and from a WiFi ELM327 adapter out of a classic
// pcap or pcapng file. Endpoints are rendered as host:port.
type PCAP struct {
	Path string
	Port uint16
}

// Name implements Source.
func (c PCAP) Name() string {
	return c.Path
}

func (c PCAP) port() layers.TCPPort {
	if c.Port == 0 {
		return DefaultELMPort
	}
	return layers.TCPPort(c.Port)
}

type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

func openPacketReader(f *os.File) (packetDataReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng section header block
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Packets implements Source.
func (c PCAP) Packets(ctx context.Context) iter.Seq2[packet.Packet, error] {
	return func(yield func(packet.Packet, error) bool) {
		f, err := os.Open(c.Path)
		if err != nil {
			yield(packet.Packet{}, fmt.Errorf("%w: %v", ErrOpen, err))
			return
		}
		defer f.Close()

		r, err := openPacketReader(f)
		if err != nil {
			yield(packet.Packet{}, fmt.Errorf("%w: %s: %v", ErrOpen, c.Path, err))
			return
		}

		port := c.port()
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				yield(packet.Packet{}, err)
				return
			}

			data, ci, err := r.ReadPacketData()
			if err == io.EOF {
				return
			}
			if err != nil {
				// a truncated trailing record is reported once, then the stream ends
				yield(packet.Packet{}, Malformed(i, "read: %v", err))
				return
			}

			pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
			if errLayer := pkt.ErrorLayer(); errLayer != nil {
				if !yield(packet.Packet{}, Malformed(i, "decode: %v", errLayer.Error())) {
					return
				}
				continue
			}

			tcpLayer := pkt.Layer(layers.LayerTypeTCP)
			if tcpLayer == nil {
				continue
			}
			tcp, _ := tcpLayer.(*layers.TCP)
			if tcp.SrcPort != port && tcp.DstPort != port {
				continue
			}
			if len(tcp.Payload) == 0 {
				continue
			}

			var srcIP, dstIP net.IP
			if nl := pkt.NetworkLayer(); nl != nil {
				switch ip := nl.(type) {
				case *layers.IPv4:
					srcIP, dstIP = ip.SrcIP, ip.DstIP
				case *layers.IPv6:
					srcIP, dstIP = ip.SrcIP, ip.DstIP
				}
			}

			ts := float64(ci.Timestamp.UnixNano()) / 1e9
			p := packet.New(ts,
				endpoint(srcIP, uint16(tcp.SrcPort)),
				endpoint(dstIP, uint16(tcp.DstPort)),
				packet.KindData,
				tcp.Payload,
			).WithChannel(strconv.Itoa(int(port)))
			if !yield(p, nil) {
				return
			}
		}
	}
}

func endpoint(ip net.IP, port uint16) string {
	host := "unknown"
	if ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
