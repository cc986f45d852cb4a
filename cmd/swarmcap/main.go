// Command swarmcap captures and replays swarm broadcast traffic (§8 end-to-
// end scenario 5: reproducing a multi-drone run offline). It is gated
// behind the "pcap" build tag, mirroring the teacher's own libpcap-backed
// tools in internal/lidar/network, since libpcap is a system dependency
// not every build environment carries.
//
//go:build pcap
// +build pcap

package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/luacghee/D2SLAM/internal/swarm"
)

var (
	mode    = flag.String("mode", "replay", "capture | replay | count")
	iface   = flag.String("iface", "", "network interface to capture on (capture mode)")
	outFile = flag.String("out", "swarm.pcap", "pcap file to write (capture mode) or read (replay/count mode)")
	port    = flag.Int("port", 9700, "swarm broadcast UDP port (§6 swarm_listen_addr default)")
	replay  = flag.String("replay-addr", "127.0.0.1:9700", "UDP address to re-inject decoded packets into (replay mode)")
	speed   = flag.Float64("speed", 1.0, "replay speed multiplier; 1.0 preserves original packet timing")
)

func main() {
	flag.Parse()

	switch *mode {
	case "capture":
		if err := runCapture(*iface, *outFile, *port); err != nil {
			log.Fatalf("swarmcap: capture: %v", err)
		}
	case "count":
		n, err := countPackets(*outFile, *port)
		if err != nil {
			log.Fatalf("swarmcap: count: %v", err)
		}
		log.Printf("swarmcap: %d swarm packets in %s", n, *outFile)
	case "replay":
		if err := runReplay(*outFile, *port, *replay, *speed); err != nil {
			log.Fatalf("swarmcap: replay: %v", err)
		}
	default:
		log.Fatalf("swarmcap: unknown -mode %q (want capture, replay, or count)", *mode)
	}
}

// runCapture opens a live interface and writes matching UDP packets to a
// pcap file, the capture-side counterpart to the teacher's offline-only
// internal/lidar/network/pcap.go.
func runCapture(iface, outFile string, port int) error {
	if iface == "" {
		return fmt.Errorf("-iface is required in capture mode")
	}
	handle, err := pcap.OpenLive(iface, 65535, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("open interface %s: %w", iface, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", outFile, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, handle.LinkType()); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}

	log.Printf("swarmcap: capturing %s to %s (filter %q)", iface, outFile, filter)
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	count := 0
	for packet := range source.Packets() {
		if err := w.WritePacket(packet.Metadata().CaptureInfo, packet.Data()); err != nil {
			return fmt.Errorf("write packet %d: %w", count, err)
		}
		count++
		if count%1000 == 0 {
			log.Printf("swarmcap: captured %d packets", count)
		}
	}
	return nil
}

// countPackets reports how many UDP packets on port match the swarm
// filter in the pcap file, grounded on the teacher's CountPCAPPackets.
func countPackets(pcapFile string, port int) (uint64, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return 0, fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var count uint64
	for packet := range source.Packets() {
		if packet == nil {
			break
		}
		count++
	}
	return count, nil
}

// runReplay reads a pcap file of captured swarm traffic and re-injects the
// decoded CBOR payloads onto a live UDP socket at the original relative
// timing, scaled by speed. Grounded directly on the teacher's
// ReadPCAPFileRealtime (internal/lidar/network/pcap_realtime.go), adapted
// from LiDAR point parsing to swarm envelope decoding.
func runReplay(pcapFile string, port int, dstAddr string, speedMul float64) error {
	if speedMul <= 0 {
		speedMul = 1.0
	}
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	addr, err := net.ResolveUDPAddr("udp", dstAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dstAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", dstAddr, err)
	}
	defer conn.Close()

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var firstTime, lastTime time.Time
	count, decoded := 0, 0
	for packet := range source.Packets() {
		if packet == nil {
			break
		}
		captureTime := packet.Metadata().Timestamp
		if firstTime.IsZero() {
			firstTime, lastTime = captureTime, captureTime
		} else if delay := captureTime.Sub(lastTime); delay > 0 {
			time.Sleep(time.Duration(float64(delay) / speedMul))
			lastTime = captureTime
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		count++

		msg, err := swarm.Decode(udp.Payload)
		if err != nil {
			log.Printf("swarmcap: skipping undecodable packet %d: %v", count, err)
			continue
		}
		decoded++
		if msg.Desc != nil {
			log.Printf("swarmcap: replay descriptor drone=%d frame=%d stamp=%.3f", msg.Desc.DroneID, msg.Desc.FrameID, msg.Desc.Stamp)
		} else if msg.Edge != nil {
			log.Printf("swarmcap: replay loop edge %s", msg.Edge.ID)
		}
		if _, err := conn.Write(udp.Payload); err != nil {
			return fmt.Errorf("write replay packet %d: %w", count, err)
		}
	}
	log.Printf("swarmcap: replayed %d/%d packets (%.1fx speed)", decoded, count, speedMul)
	return nil
}
