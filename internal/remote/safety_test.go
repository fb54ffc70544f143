package remote_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/linkscan/internal/remote"
)

func TestHostIsPublic(t *testing.T) {
	testCases := []struct {
		host string
		want bool
	}{
		{host: "127.0.0.1", want: false},
		{host: "10.0.0.1", want: false},
		{host: "172.16.0.1", want: false},
		{host: "192.168.1.1", want: false},
		{host: "169.254.10.10", want: false},
		{host: "0.0.0.0", want: false},
		{host: "localhost", want: false},
		{host: "LOCALHOST", want: false},
		{host: "::1", want: false},
		{host: "[::1]", want: false},
		{host: "fe80::1", want: false},
		{host: "8.8.8.8", want: true},
		{host: "93.184.216.34", want: true},
		{host: "2001:4860:4860::8888", want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.want, remote.HostIsPublic(tc.host))
		})
	}
}
