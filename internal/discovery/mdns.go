// ABOUTME: mDNS service discovery for headset streaming servers
// ABOUTME: Handles both advertisement (server side) and browsing (headset side)
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// ServiceType is the DNS-SD type advertised by streaming servers
const ServiceType = "_xrsync-server._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path advertised in the TXT record
	Logger      *zap.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Path == "" {
		config.Path = "/xr"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Manager{
		config:  config,
		log:     config.Logger,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise advertises this server via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Info("advertising mDNS service",
		zap.String("name", m.config.ServiceName),
		zap.Int("port", m.config.Port),
		zap.String("type", ServiceType))

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for streaming servers until Stop
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server := entryToServer(entry)
				m.log.Info("discovered server",
					zap.String("name", server.Name),
					zap.String("addr", server.Addr()))

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			m.log.Debug("mdns query failed", zap.Error(err))
		}
		close(entries)
	}
}

// entryToServer extracts server info from a service entry
func entryToServer(entry *mdns.ServiceEntry) *ServerInfo {
	server := &ServerInfo{
		Name: entry.Name,
		Port: entry.Port,
		Path: "/xr",
	}
	if entry.AddrV4 != nil {
		server.Host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		server.Host = entry.AddrV6.String()
	} else {
		server.Host = entry.Host
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			server.Path = v
		}
	}
	return server
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
