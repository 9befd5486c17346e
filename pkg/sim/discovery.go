package sim

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters for the simulated link.
const (
	// ServiceType is the DNS-SD service type holders advertise.
	ServiceType = "_mdoc-sim._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// txtKeyQR is the TXT record key carrying the engagement QR
	// payload.
	txtKeyQR = "qr"
)

// Advertiser publishes a holder's simulated link on the LAN.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the _mdoc-sim._tcp service with the engagement
// QR payload in a TXT record. Pass nil ifaces to advertise on all
// interfaces.
func Advertise(instanceName string, port int, qrPayload string, ifaces []net.Interface) (*Advertiser, error) {
	txt := []string{txtKeyQR + "=" + qrPayload}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		txt,
		ifaces,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s service: %w", ServiceType, err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Peer is a discovered holder.
type Peer struct {
	// InstanceName is the advertised service instance.
	InstanceName string

	// QR is the engagement QR payload from the TXT record.
	QR string

	// Addresses are the peer's IP addresses as strings.
	Addresses []string

	// Port is the peer's TCP port.
	Port uint16
}

// Addr returns a dialable "host:port" for the first address.
func (p *Peer) Addr() string {
	if len(p.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(p.Addresses[0], fmt.Sprintf("%d", p.Port))
}

// Browse discovers holders on the LAN. Discovered peers are delivered
// on the returned channel until ctx is cancelled; duplicates by
// instance name are suppressed.
func Browse(ctx context.Context) (<-chan *Peer, error) {
	out := make(chan *Peer)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string]bool)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				peer := entryToPeer(entry)
				if peer == nil || seen[peer.InstanceName] {
					continue
				}
				seen[peer.InstanceName] = true
				select {
				case out <- peer:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return out, nil
}

// entryToPeer converts a zeroconf entry, returning nil for entries
// without a QR TXT record or without addresses.
func entryToPeer(entry *zeroconf.ServiceEntry) *Peer {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return peerFromRecord(entry.Instance, entry.Text, addrs, uint16(entry.Port))
}

func peerFromRecord(instance string, txt, addrs []string, port uint16) *Peer {
	var qr string
	for _, record := range txt {
		if value, ok := strings.CutPrefix(record, txtKeyQR+"="); ok {
			qr = value
			break
		}
	}
	if qr == "" || len(addrs) == 0 {
		return nil
	}

	return &Peer{
		InstanceName: instance,
		QR:           qr,
		Addresses:    addrs,
		Port:         port,
	}
}
