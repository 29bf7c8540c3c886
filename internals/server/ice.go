package server

import (
	"strconv"
	"strings"

	"github.com/plazaworld/plaza/internals/config"
)

// ICEServer is one entry of the client-facing ICE configuration.
type ICEServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// BuildICEServers assembles the STUN/TURN list served to clients. With no
// TURN host configured, the request host doubles as the relay so
// single-host deployments work out of the box.
func BuildICEServers(cfg config.ICEConfig, requestHost string) []ICEServer {
	var servers []ICEServer
	if len(cfg.STUNServers) > 0 {
		for _, url := range cfg.STUNServers {
			servers = append(servers, ICEServer{URLs: url})
		}
	} else {
		servers = append(servers, ICEServer{URLs: "stun:stun.l.google.com:19302"})
	}

	host := cfg.TURNHost
	if host == "" {
		host = requestHost
	}
	if host == "" {
		return servers
	}

	preferTURNS := strings.HasPrefix(cfg.TURNHost, "turns:")
	normalized := host
	if strings.HasPrefix(normalized, "turn:") || strings.HasPrefix(normalized, "turns:") {
		normalized = strings.TrimPrefix(normalized, "turns:")
		normalized = strings.TrimPrefix(normalized, "turn:")
	}

	protocols := []string{"turn"}
	if preferTURNS {
		protocols = append(protocols, "turns")
	}
	for _, protocol := range protocols {
		url := protocol + ":" + normalized
		if cfg.TURNPort != 0 {
			url += ":" + strconv.Itoa(cfg.TURNPort)
		}
		servers = append(servers, ICEServer{
			URLs:       url,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}
	return servers
}
