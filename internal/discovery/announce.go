package discovery

import (
	"fmt"

	"github.com/enbility/zeroconf/v3"
)

// Default mDNS service parameters for the station's own announcement.
const (
	defaultInstance = "log4ym"
	serviceType     = "_log4ym._tcp"
	serviceDomain   = "local."
)

// AnnouncerConfig describes the station's mDNS announcement.
type AnnouncerConfig struct {
	// Instance is the service instance name, defaulting to "log4ym".
	Instance string

	// Port is the API port clients should connect to.
	Port int

	// Version is advertised in the TXT record.
	Version string
}

// Announcer advertises this station's API over mDNS so clients on the
// LAN can find it without configuration.
type Announcer struct {
	server *zeroconf.Server
	logger Logger
}

// Announce registers the service. Close unregisters it.
func Announce(cfg AnnouncerConfig, logger Logger) (*Announcer, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	instance := cfg.Instance
	if instance == "" {
		instance = defaultInstance
	}

	txt := []string{
		"version=" + cfg.Version,
		fmt.Sprintf("api=%d", cfg.Port),
	}
	server, err := zeroconf.Register(instance, serviceType, serviceDomain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	logger.Info("mDNS announcement registered",
		"instance", instance, "service", serviceType, "port", cfg.Port)
	return &Announcer{server: server, logger: logger}, nil
}

// Close withdraws the announcement.
func (a *Announcer) Close() {
	a.server.Shutdown()
	a.logger.Info("mDNS announcement withdrawn")
}
