package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazaworld/plaza/internals/config"
)

func TestBuildICEServersDefaults(t *testing.T) {
	servers := BuildICEServers(config.ICEConfig{
		TURNPort:     3478,
		TURNUsername: "plaza",
		TURNPassword: "plaza",
	}, "relay.example.com")

	require.Len(t, servers, 2)
	assert.Equal(t, "stun:stun.l.google.com:19302", servers[0].URLs)
	assert.Equal(t, "turn:relay.example.com:3478", servers[1].URLs)
	assert.Equal(t, "plaza", servers[1].Username)
	assert.Equal(t, "plaza", servers[1].Credential)
}

func TestBuildICEServersConfiguredSTUN(t *testing.T) {
	servers := BuildICEServers(config.ICEConfig{
		STUNServers: []string{"stun:stun.example.com:3478", "stun:backup.example.com:3478"},
	}, "")

	require.Len(t, servers, 2)
	assert.Equal(t, "stun:stun.example.com:3478", servers[0].URLs)
	assert.Equal(t, "stun:backup.example.com:3478", servers[1].URLs)
}

func TestBuildICEServersTURNSHost(t *testing.T) {
	servers := BuildICEServers(config.ICEConfig{
		TURNHost:     "turns:relay.example.com",
		TURNPort:     5349,
		TURNUsername: "user",
		TURNPassword: "pass",
	}, "ignored.example.com")

	require.Len(t, servers, 3)
	assert.Equal(t, "turn:relay.example.com:5349", servers[1].URLs)
	assert.Equal(t, "turns:relay.example.com:5349", servers[2].URLs)
}

func TestBuildICEServersNoTURNWithoutHost(t *testing.T) {
	servers := BuildICEServers(config.ICEConfig{STUNServers: []string{"stun:s.example.com"}}, "")
	require.Len(t, servers, 1)
}
