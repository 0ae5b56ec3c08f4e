package chatserver

import "time"

// DefaultPort is the TCP port the chat server listens on by default.
const DefaultPort = 7070

// Config holds the server settings. Fields carry env tags so a DefaultConfig
// value can be overridden with config.Load.
type Config struct {
	// Name identifies the server in log entries.
	Name string `env:"CHAT_SERVER_NAME"`
	// Addr is the "host:port" to listen on; an empty host binds all interfaces.
	Addr string `env:"CHAT_ADDR"`
	// WaitTimeout bounds each multiplexer wait, and therefore how long a stop
	// request can go unnoticed.
	WaitTimeout time.Duration `env:"CHAT_WAIT_TIMEOUT"`
	// BufferSize is the capacity of each connection's read buffer.
	BufferSize int `env:"CHAT_BUFFER_SIZE"`
	// MaxEvents caps the ready registrations handled per wake-up.
	MaxEvents int `env:"CHAT_MAX_EVENTS"`
}

// DefaultConfig returns a Config listening on :7070 with a 5s wait timeout
// and 4096-byte read buffers.
func DefaultConfig() Config {
	return Config{
		Name:        "chat",
		Addr:        ":7070",
		WaitTimeout: 5 * time.Second,
		BufferSize:  4096,
		MaxEvents:   128,
	}
}

// sanitize replaces empty or non-positive values with defaults.
func (c Config) sanitize() Config {
	def := DefaultConfig()

	if c.Name == "" {
		c.Name = def.Name
	}

	if c.Addr == "" {
		c.Addr = def.Addr
	}

	if c.WaitTimeout <= 0 {
		c.WaitTimeout = def.WaitTimeout
	}

	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}

	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}

	return c
}
