package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/mdns"
)

const ServiceName = "_gonoti._tcp"

// Advertise announces a transport on the local network so clients can find
// it with client.Discover. Call Shutdown on the result to withdraw it.
func Advertise(instance string, port int, transport string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		instance = host
	}
	txt := []string{"version=1", "transport=" + transport}

	service, err := mdns.NewMDNSService(instance, ServiceName, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to build mDNS service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	slog.Info("Advertising server over mDNS", "instance", instance, "service", ServiceName, "port", port, "transport", transport)
	return srv, nil
}
