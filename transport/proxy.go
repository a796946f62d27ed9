package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// newDialer returns a context-aware dialer, routed through a SOCKS5 proxy
// when config is set.
func newDialer(config *ProxyConfig, timeout time.Duration) (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if config == nil {
		return direct, nil
	}

	proxyAddr := net.JoinHostPort(config.Host, strconv.Itoa(int(config.Port)))

	logrus.WithFields(logrus.Fields{
		"function":   "newDialer",
		"proxy_type": config.Type,
		"proxy_addr": proxyAddr,
	}).Info("Creating proxy dialer")

	var auth *proxy.Auth
	if config.Username != "" || config.Password != "" {
		auth = &proxy.Auth{
			User:     config.Username,
			Password: config.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "newDialer",
			"proxy_type": config.Type,
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialer{dialer}, nil
}

// contextDialer adapts a plain proxy.Dialer. The context is only checked
// before dialing.
type contextDialer struct {
	proxy.Dialer
}

func (d contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Dial(network, addr)
}
