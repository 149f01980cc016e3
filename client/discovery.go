package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const DefaultServiceName = "_gonoti._tcp"

// DiscoveredService is a notification server advertised over mDNS.
type DiscoveredService struct {
	Name       string
	Host       string
	Port       int
	Transport  string // "tcp" or "websocket", from the transport= TXT record
	TXTRecords []string
}

func (d DiscoveredService) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Discover returns the first server answering for service. ctx bounds the
// lookup.
func Discover(ctx context.Context, service string) (*DiscoveredService, error) {
	if service == "" {
		service = DefaultServiceName
	}

	entries := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.DisableIPv6 = true
	if deadline, ok := ctx.Deadline(); ok {
		params.Timeout = max(0, time.Until(deadline))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				if err := <-errCh; err != nil {
					return nil, fmt.Errorf("mDNS lookup for %s failed: %w", service, err)
				}
				return nil, fmt.Errorf("no %s service found", service)
			}
			svc, err := fromEntry(entry)
			if err != nil {
				continue
			}
			return svc, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("mDNS discovery for %s: %w", service, ctx.Err())
		}
	}
}

func fromEntry(entry *mdns.ServiceEntry) (*DiscoveredService, error) {
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil, fmt.Errorf("no address for %s", entry.Name)
	}

	svc := &DiscoveredService{
		Name:       entry.Name,
		Host:       host,
		Port:       entry.Port,
		Transport:  "tcp",
		TXTRecords: entry.InfoFields,
	}
	for _, f := range entry.InfoFields {
		if v, ok := strings.CutPrefix(f, "transport="); ok {
			svc.Transport = v
		}
	}
	return svc, nil
}
