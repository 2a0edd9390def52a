package config

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSSURL = "ss://Y2hhY2hhMjAtaWV0Zi1wb2x5MTMwNTpXaFJaMkNlTVI1UkNnc3cx@ss.example.net:443?prefix=POST%2520x2a8a1eO"

func TestBuildURL(t *testing.T) {
	testCases := []struct {
		name     string
		config   SSConfig
		expected string
		wantErr  bool
	}{
		{
			name: "Full config with prefix",
			config: SSConfig{
				Server:     "ss.example.net",
				ServerPort: 443,
				Method:     "chacha20-ietf-poly1305",
				Password:   "WhRZ2CeMR5RCgsw1",
				Prefix:     "POST%20x2a8a1eO",
			},
			expected: testSSURL,
		},
		{
			name: "Without prefix",
			config: SSConfig{
				Server:     "ss.example.net",
				ServerPort: 8388,
				Method:     "chacha20-ietf-poly1305",
				Password:   "WhRZ2CeMR5RCgsw1",
			},
			expected: "ss://Y2hhY2hhMjAtaWV0Zi1wb2x5MTMwNTpXaFJaMkNlTVI1UkNnc3cx@ss.example.net:8388",
		},
		{
			name:    "Missing server",
			config:  SSConfig{Method: "chacha20-ietf-poly1305", Password: "x"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.config.BuildURL()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseSSConfig(t *testing.T) {
	jsonConfig := `{
		"server": "ss.example.net",
		"server_port": 443,
		"method": "chacha20-ietf-poly1305",
		"password": "WhRZ2CeMR5RCgsw1",
		"prefix": "POST%20x2a8a1eO"
	}`

	got, err := ParseSSConfig(jsonConfig)
	require.NoError(t, err)
	assert.Equal(t, testSSURL, got)

	_, err = ParseSSConfig("{")
	require.Error(t, err)
}

func TestResolveTransport(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/url":
			_, _ = io.WriteString(w, "  "+testSSURL+"\n")
		case "/json":
			_, _ = io.WriteString(w, `{"server":"ss.example.net","server_port":443,"method":"chacha20-ietf-poly1305","password":"WhRZ2CeMR5RCgsw1","prefix":"POST%20x2a8a1eO"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	base := "ssconfig://" + strings.TrimPrefix(srv.URL, "https://")

	tests := []struct {
		name      string
		transport string
		want      string
		wantErr   bool
	}{
		{name: "empty", transport: "", want: ""},
		{name: "passthrough", transport: "socks5://127.0.0.1:1080", want: "socks5://127.0.0.1:1080"},
		{name: "remote url", transport: base + "/url", want: testSSURL},
		{name: "remote json", transport: base + "/json", want: testSSURL},
		{name: "not found", transport: base + "/missing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTransport(context.Background(), srv.Client(), tt.transport)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
