package netutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalHost(t *testing.T) {
	assert.Equal(t, "dc01.corp.example.com", CanonicalHost(" DC01.Corp.Example.COM. "))
	assert.Equal(t, "", CanonicalHost("  "))
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "dc01", ShortName("dc01.corp.example.com"))
	assert.Equal(t, "dc01", ShortName("DC01"))
}

func TestIsLocalHost_Loopback(t *testing.T) {
	assert.True(t, IsLocalHost("localhost"))
	assert.True(t, IsLocalHost("127.0.0.1"))
	assert.True(t, IsLocalHost("::1"))
	assert.True(t, IsLocalHost("127.0.0.53"))
}

func TestIsLocalHost_OwnHostname(t *testing.T) {
	hn, err := os.Hostname()
	require.NoError(t, err)
	assert.True(t, IsLocalHost(hn))
	assert.True(t, IsLocalHost(strings.ToUpper(hn)))
	assert.True(t, IsLocalHost(ShortName(hn)))
}

func TestIsLocalHost_SharedFirstLabelIsNotLocal(t *testing.T) {
	hn, err := os.Hostname()
	require.NoError(t, err)
	// Another domain's endpoint that happens to share our first label.
	other := ShortName(hn) + ".other.example.invalid"
	if CanonicalHost(other) == CanonicalHost(hn) {
		t.Skipf("hostname %q already carries that suffix", hn)
	}
	assert.False(t, IsLocalHost(other))
}

func TestIsLocalHost_Remote(t *testing.T) {
	assert.False(t, IsLocalHost("dc02.corp.example.com"))
	assert.False(t, IsLocalHost("192.0.2.10"))
	assert.False(t, IsLocalHost(""))
}
