// Package transport opens authenticated command sessions to network devices
// and executes exec and configuration commands over them.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

// Configuration errors surface before any remote contact is attempted and are
// never retried, unlike per-device connectivity failures.
var (
	ErrMissingCredentials  = errors.New("missing device credentials")
	ErrMissingAddress      = errors.New("missing device address")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// platformAliases maps inventory platform slugs to the one supported
// transport profile.
var platformAliases = map[string]string{
	"ios":       "cisco_iosxe",
	"cisco_ios": "cisco_iosxe",
	"iosxe":     "cisco_iosxe",
	"cisco_xe":  "cisco_iosxe",
	"ios-xe":    "cisco_iosxe",
}

// ResolveConnection derives the transport configuration for one session from
// an operation request and the process-wide device credentials. Any failure
// here is fatal to the operation before a session is attempted.
func ResolveConnection(req models.OperationRequest, cfg *config.Config) (models.ConnectionParameters, error) {
	dev := cfg.Device
	if dev.Username == "" || dev.Password == "" || dev.EnablePassword == "" {
		return models.ConnectionParameters{}, ErrMissingCredentials
	}
	if req.IPAddress == "" {
		return models.ConnectionParameters{}, ErrMissingAddress
	}

	platform, ok := platformAliases[strings.ToLower(req.Platform)]
	if !ok {
		return models.ConnectionParameters{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, req.Platform)
	}

	return models.ConnectionParameters{
		Host:                req.IPAddress,
		Platform:            platform,
		Username:            dev.Username,
		Password:            dev.Password,
		EnablePassword:      dev.EnablePassword,
		LegacyKexAlgorithms: true,
		LegacyCiphers:       true,
		SocketTimeout:       dev.SocketTimeout,
		CommandTimeout:      dev.CommandTimeout,
		KeepAliveInterval:   dev.KeepAliveInterval,
	}, nil
}
