package yeelight

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
)

const (
	// SSDP search for LAN-control enabled bulbs
	discoverMSG = "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1982\r\nMAN: \"ssdp:discover\"\r\nST: wifi_bulb\r\n"
	// how long discovery listens for answers, also the TCP command timeout
	timeout = time.Second * 3
	// SSDP multicast address
	ssdpAddress = "239.255.255.250:1982"
	// line ending (CRLF)
	lineEnding = "\r\n"
	// default TCP control port
	defaultBulbPort = 55443
)

// NewBulbFromAddress creates a bulb handle for ip[:port]. Nothing is dialed until Connect.
func NewBulbFromAddress(address string) (*Bulb, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(defaultBulbPort))
	}

	addr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse bulb address")
	}

	return newBulb(addr), nil
}

// Discover multicasts a search and collects every bulb that answers before the timeout or
// ctx ends. Bulbs answering more than once are reported once.
func Discover(ctx context.Context) ([]*Bulb, error) {
	group, err := net.ResolveUDPAddr("udp4", ssdpAddress)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve SSDP address")
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open discovery socket")
	}
	defer conn.Close()

	if _, err = conn.WriteToUDP([]byte(discoverMSG), group); err != nil {
		return nil, eris.Wrap(err, "failed to write discover message to SSDP address")
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, eris.Wrap(err, "failed to set read deadline for SSDP connection")
	}

	var bulbs []*Bulb
	buf := make([]byte, 2048)
	for ctx.Err() == nil {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if eris.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return nil, eris.Wrap(err, "failed to read from SSDP connection")
		}

		bulb, err := parseDiscoveryResponse(string(buf[:n]))
		if err != nil {
			return nil, err
		}
		if bulb != nil {
			bulbs = append(bulbs, bulb)
		}
	}

	return lo.UniqBy(bulbs, func(b *Bulb) netip.AddrPort { return b.Addr() }), nil
}

// parseDiscoveryResponse reads one SSDP answer. It returns nil when the answer carries no
// yeelight location.
func parseDiscoveryResponse(resp string) (*Bulb, error) {
	var bulb *Bulb
	fields := make(map[string]string)

	for line := range strings.SplitSeq(resp, lineEnding) {
		if address, found := strings.CutPrefix(line, "Location: yeelight://"); found {
			addr, err := netip.ParseAddrPort(address)
			if err != nil {
				return nil, eris.Wrap(err, "failed to parse bulb address")
			}
			bulb = newBulb(addr)
			continue
		}
		if key, value, found := strings.Cut(line, ": "); found {
			fields[key] = value
		}
	}
	if bulb == nil {
		return nil, nil
	}

	bulb.id = fields["id"]
	bulb.model = fields["model"]
	bulb.firmwareVersion = fields["fw_ver"]
	if support := fields["support"]; support != "" {
		bulb.support = strings.Fields(support)
	}

	// discovery announces the same properties get_prop returns
	bulb.updatePropertiesFromSlice(lo.Map(polledProperties, func(name string, _ int) string {
		return fields[name]
	}), bulb.Addr().String())

	return bulb, nil
}
