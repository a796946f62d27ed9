// Package cli holds the pieces shared by the xfer-send and xfer-recv
// commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/transport"
)

// Transport names accepted by the -transport flag.
const (
	TransportTCP = "tcp"
	TransportRPC = "rpc"
)

// ConfigureLogging sets the global logrus level and formatter. format is
// "text" or "json".
func ConfigureLogging(out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}

	switch strings.ToLower(format) {
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", format)
	}

	logrus.SetOutput(out)
	logrus.SetLevel(lvl)
	return nil
}

// ParsePort parses a TCP port argument. zeroOK allows port 0.
func ParsePort(s string, zeroOK bool) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: must be between %d and 65535", s, minPort(zeroOK))
	}
	if port == 0 && !zeroOK {
		return 0, fmt.Errorf("invalid port %q: must be between 1 and 65535", s)
	}
	return uint16(port), nil
}

func minPort(zeroOK bool) int {
	if zeroOK {
		return 0
	}
	return 1
}

// ParseSOCKS5 parses "[user:pass@]host:port" into a proxy configuration.
func ParseSOCKS5(s string) (*transport.ProxyConfig, error) {
	config := &transport.ProxyConfig{Type: "socks5"}

	if at := strings.LastIndex(s, "@"); at >= 0 {
		creds := s[:at]
		s = s[at+1:]
		user, pass, ok := strings.Cut(creds, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid socks5 credentials: want user:pass")
		}
		config.Username = user
		config.Password = pass
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("invalid socks5 address %q: %w", s, err)
	}
	port, err := ParsePort(portStr, false)
	if err != nil {
		return nil, fmt.Errorf("invalid socks5 address %q: %w", s, err)
	}
	config.Host = host
	config.Port = port

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SignalContext returns a context cancelled on the first interrupt.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		select {
		case sig := <-sigChan:
			logrus.WithField("signal", sig.String()).Info("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
