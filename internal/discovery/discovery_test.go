package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEndpointOf(t *testing.T) {
	entry := zeroconf.NewServiceEntry("collabgrid-box", "_collabgrid._tcp", "local.")
	entry.Port = 3001
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Text = []string{"path=/ws"}

	ep, ok := endpointOf(entry)
	assert.True(t, ok)
	assert.Equal(t, "ws://192.168.1.20:3001/ws", ep.URL())
	assert.Equal(t, "collabgrid-box", ep.Instance)
}

func TestEndpointOfPrefersIPv4AndFallsBackToIPv6(t *testing.T) {
	entry := zeroconf.NewServiceEntry("x", "_collabgrid._tcp", "local.")
	entry.Port = 80
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	ep, ok := endpointOf(entry)
	assert.True(t, ok)
	assert.Equal(t, "ws://[fe80::1]:80/ws", ep.URL())
}

func TestEndpointOfWithoutAddress(t *testing.T) {
	entry := zeroconf.NewServiceEntry("x", "_collabgrid._tcp", "local.")
	_, ok := endpointOf(entry)
	assert.False(t, ok)
}

func TestPathOf(t *testing.T) {
	assert.Equal(t, "/ws", pathOf(nil))
	assert.Equal(t, "/custom", pathOf([]string{"txtv=0", "path=/custom"}))
}
