package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthstore/internal/config"
)

func TestNewServerUsesConfiguredTimeouts(t *testing.T) {
	cfg := config.Config{
		HTTPAddress:  ":9090",
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 7 * time.Second,
	}
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	require.Equal(t, ":9090", server.Addr)
	require.Equal(t, 2*time.Second, server.ReadTimeout)
	require.Equal(t, 7*time.Second, server.WriteTimeout)
	require.Equal(t, idleTimeout, server.IdleTimeout)
	require.NotNil(t, server.Handler)
}
