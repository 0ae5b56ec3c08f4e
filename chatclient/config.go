package chatclient

import "time"

// Config holds configuration for a chat client session.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string `env:"CHAT_SERVER_ADDR"`
	// WaitTimeout bounds each multiplexer wait of the read activity.
	WaitTimeout time.Duration `env:"CHAT_CLIENT_WAIT_TIMEOUT"`
	// ConnectTimeout is the max duration for establishing the connection.
	ConnectTimeout time.Duration `env:"CHAT_CONNECT_TIMEOUT"`
	// ConnectRetryInterval is the delay between checks of a pending connect.
	ConnectRetryInterval time.Duration `env:"CHAT_CONNECT_RETRY_INTERVAL"`
	// ReadBufferSize is the capacity of the receive buffer.
	ReadBufferSize int `env:"CHAT_CLIENT_BUFFER_SIZE"`
	// QuitCommand is the input line that ends the session.
	QuitCommand string `env:"CHAT_QUIT_COMMAND"`
}

// DefaultConfig returns a Config with default values for the given address.
// Override fields as needed before passing to New.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: WaitTimeout 1s, ConnectTimeout 10s,
//     ConnectRetryInterval 1s, ReadBufferSize 4096, QuitCommand "quit".
func DefaultConfig(address string) Config {
	return Config{
		Address:              address,
		WaitTimeout:          time.Second,
		ConnectTimeout:       10 * time.Second,
		ConnectRetryInterval: time.Second,
		ReadBufferSize:       4096,
		QuitCommand:          "quit",
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig("127.0.0.1:7070")

	if c.Address == "" {
		c.Address = def.Address
	}

	if c.WaitTimeout <= 0 {
		c.WaitTimeout = def.WaitTimeout
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}

	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = def.ConnectRetryInterval
	}

	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}

	if c.QuitCommand == "" {
		c.QuitCommand = def.QuitCommand
	}

	return c
}
