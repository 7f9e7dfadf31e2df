package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "lobby", InstanceName("lobby"))
	assert.True(t, strings.HasPrefix(InstanceName(""), "peggiator-"))
}

func TestToEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("hub-1", "_peggiator._tcp", "local.")
	e.Port = 3000
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"txtv=1", "path=/ws", "scheme=wss"}

	got, ok := toEntry(e)
	assert.True(t, ok)
	assert.Equal(t, Entry{Instance: "hub-1", URL: "wss://192.168.1.20:3000/ws"}, got)
}

func TestToEntryDefaultsAndIPv6(t *testing.T) {
	e := zeroconf.NewServiceEntry("hub-2", "_peggiator._tcp", "local.")
	e.Port = 8080
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	got, ok := toEntry(e)
	assert.True(t, ok)
	assert.Equal(t, "ws://[fe80::1]:8080/ws", got.URL)
}

func TestToEntryWithoutAddress(t *testing.T) {
	_, ok := toEntry(zeroconf.NewServiceEntry("x", "_peggiator._tcp", "local."))
	assert.False(t, ok)
	_, ok = toEntry(nil)
	assert.False(t, ok)
}
