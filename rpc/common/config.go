package common

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultFirstConnectionID is the id assigned to the first accepted connection
	DefaultFirstConnectionID uint32 = 1000
	// DefaultMaxPayloadBytes limits the payload of a single received frame
	DefaultMaxPayloadBytes uint32 = 8 * 1024 * 1024
	// DefaultHandshakeTimeoutSecond bounds the time a peer may take to complete validation
	DefaultHandshakeTimeoutSecond int64 = 5
)

// --------------------------------------------------------------------------
// Socket configuration
// --------------------------------------------------------------------------

// SocketConf holds the kernel buffer sizes applied to a socket (0 = OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	// TCPLingerSec < 0 keeps the OS default
	TCPLingerSec int
}

// ConnConfig holds the per connection settings shared by client and server
type ConnConfig struct {
	// HandshakeTimeoutSecond bounds the validation handshake (0 = no deadline)
	HandshakeTimeoutSecond int64
	// MaxPayloadBytes rejects frames announcing a larger payload (0 = no limit)
	MaxPayloadBytes uint32

	SocketConf SocketConf
	TCPConf    TCPConf
}

// HandshakeTimeout returns the handshake deadline as a duration
func (c ConnConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecond) * time.Second
}

// DefaultConnConfig returns the connection settings used when none are given
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		HandshakeTimeoutSecond: DefaultHandshakeTimeoutSecond,
		MaxPayloadBytes:        DefaultMaxPayloadBytes,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
	}
}

func (c ConnConfig) writeTo(addField func(name, value string)) {
	addField("Handshake Timeout", fmt.Sprintf("%d sec", c.HandshakeTimeoutSecond))
	addField("Max Payload", fmt.Sprintf("%d bytes", c.MaxPayloadBytes))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.SocketConf.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.SocketConf.ReadBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.TCPConf.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPConf.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPConf.TCPLingerSec))
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a server endpoint
type ServerConfig struct {
	// Endpoint is the listen address (e.g. 0.0.0.0:60000)
	Endpoint string

	// FirstConnectionID is the base of the connection id counter
	FirstConnectionID uint32

	Conn ConnConfig

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a server configuration listening on endpoint
func DefaultServerConfig(endpoint string) ServerConfig {
	return ServerConfig{
		Endpoint:          endpoint,
		FirstConnectionID: DefaultFirstConnectionID,
		Conn:              DefaultConnConfig(),
		LogLevel:          "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("First Connection ID", fmt.Sprintf("%d", c.FirstConnectionID))

	addSection("Connection")
	c.Conn.writeTo(addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a client endpoint
type ClientConfig struct {
	// DialTimeoutSecond bounds name resolution and connect (0 = no deadline)
	DialTimeoutSecond int64

	Conn ConnConfig

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeoutSecond: 5,
		Conn:              DefaultConnConfig(),
		LogLevel:          "info",
	}
}

// DialTimeout returns the dial deadline as a duration
func (c *ClientConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Dial Timeout", fmt.Sprintf("%d sec", c.DialTimeoutSecond))

	addSection("Connection")
	c.Conn.writeTo(addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
