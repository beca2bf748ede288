package models

import "time"

// ConnectionParameters is the fully resolved transport configuration for one
// device session. It is derived from an OperationRequest plus the process-wide
// credential configuration, owned by a single dispatcher run and never persisted.
type ConnectionParameters struct {
	Host           string
	Platform       string // normalized transport profile, e.g. cisco_iosxe
	Username       string
	Password       string
	EnablePassword string

	// Legacy devices negotiate old key exchanges and ciphers.
	LegacyKexAlgorithms bool
	LegacyCiphers       bool

	SocketTimeout     time.Duration // TCP/SSH handshake deadline
	CommandTimeout    time.Duration // per remote command deadline
	KeepAliveInterval time.Duration
}
