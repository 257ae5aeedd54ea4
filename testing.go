package torrent

import (
	"github.com/anacrolix/log"
)

// A config that binds only to loopback, doesn't use trackers, and doesn't log.
func TestingConfig() *ClientConfig {
	cfg := NewDefaultClientConfig()
	cfg.ListenHost = LoopbackListenHost
	cfg.ListenPort = 0
	cfg.DisableTrackers = true
	cfg.DhtAnnounceInterval = 0
	cfg.Logger = log.Default.FilterLevel(log.Disabled)
	return cfg
}
