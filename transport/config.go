package transport

import (
	"fmt"
	"time"

	"github.com/opd-ai/tcpxfer/file"
	"github.com/opd-ai/tcpxfer/limits"
)

// SenderConfig configures a Sender.
type SenderConfig struct {
	// ChunkSize is the size of each file read and connection write.
	ChunkSize int
	// DialTimeout bounds connection establishment. Zero means no timeout.
	DialTimeout time.Duration
	// WriteTimeout is applied to each chunk write when the connection
	// supports deadlines. Zero disables it.
	WriteTimeout time.Duration
	// Proxy routes the connection through a SOCKS5 proxy when set.
	Proxy *ProxyConfig
	// TimeProvider overrides the clock used for durations.
	TimeProvider file.TimeProvider
}

// DefaultSenderConfig returns the default sender configuration.
func DefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		ChunkSize:   limits.DefaultChunkSize,
		DialTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return fmt.Errorf("%w: %v", ErrArgument, err)
	}
	if c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts cannot be negative", ErrArgument)
	}
	if c.Proxy != nil {
		if err := c.Proxy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// OutputDir is where received files are written. Created on demand.
	OutputDir string
	// ChunkSize is the largest payload read issued to the connection.
	ChunkSize int
	// MaxNameLength caps the header name before it is allocated. Zero means
	// limits.MaxFileNameLength.
	MaxNameLength uint64
	// Strict turns short transfers into ErrShortTransfer errors.
	Strict bool
	// ReadTimeout bounds the header read and each payload read when the connection
	// supports deadlines. Zero disables it.
	ReadTimeout time.Duration
	// TimeProvider overrides the clock used for durations.
	TimeProvider file.TimeProvider
}

// DefaultReceiverConfig returns the default receiver configuration.
func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		OutputDir:     file.DefaultOutputDir,
		ChunkSize:     limits.DefaultChunkSize,
		MaxNameLength: limits.MaxFileNameLength,
	}
}

// Validate checks the configuration.
func (c *ReceiverConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output directory cannot be empty", ErrArgument)
	}
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return fmt.Errorf("%w: %v", ErrArgument, err)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout cannot be negative", ErrArgument)
	}
	return nil
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// MaxConcurrent is the number of connections handled at once.
	// Values below 2 keep the loop strictly serial.
	MaxConcurrent int
}

// DefaultListenerConfig returns the default, serial, listener configuration.
func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{MaxConcurrent: 1}
}

// Validate checks the configuration.
func (c *ListenerConfig) Validate() error {
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max concurrent cannot be negative", ErrArgument)
	}
	return nil
}

// ProxyConfig contains configuration for proxied connections.
type ProxyConfig struct {
	Type     string // only "socks5" is supported
	Host     string
	Port     uint16
	Username string
	Password string
}

// Validate checks the configuration.
func (c *ProxyConfig) Validate() error {
	if c.Type != "socks5" {
		return fmt.Errorf("%w: unsupported proxy type: %s (must be 'socks5')", ErrArgument, c.Type)
	}
	if c.Host == "" || c.Port == 0 {
		return fmt.Errorf("%w: proxy host and port are required", ErrArgument)
	}
	return nil
}
