// Package main provides xfer-send, which sends one file to an xfer-recv
// server.
//
// Usage:
//
//	xfer-send [options] <server_ip> <server_port> <filename>
//
// The file's basename and size are sent ahead of its contents. The command
// exits with status 1 on a usage error or a failed transfer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/opd-ai/tcpxfer/internal/cli"
	"github.com/opd-ai/tcpxfer/limits"
	"github.com/opd-ai/tcpxfer/rpc"
	"github.com/opd-ai/tcpxfer/transport"
)

// CLI configuration
type CLIConfig struct {
	chunkSize   int
	dialTimeout time.Duration
	socks5      string
	transport   string
	logLevel    string
	logFormat   string

	address string
	path    string
}

// parseCLIFlags parses args (without the program name).
func parseCLIFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet("xfer-send", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&config.chunkSize, "chunk-size", limits.DefaultChunkSize, "Bytes per read and write")
	fs.DurationVar(&config.dialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")
	fs.StringVar(&config.socks5, "socks5", "", "SOCKS5 proxy as [user:pass@]host:port")
	fs.StringVar(&config.transport, "transport", cli.TransportTCP, "Transport: tcp or rpc")
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFormat, "log-format", "text", "Log format (text, json)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [options] <server_ip> <server_port> <filename>\n\nOptions:\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return nil, fmt.Errorf("expected 3 arguments, got %d", fs.NArg())
	}

	port, err := cli.ParsePort(fs.Arg(1), false)
	if err != nil {
		return nil, err
	}
	config.address = net.JoinHostPort(fs.Arg(0), fmt.Sprint(port))
	config.path = fs.Arg(2)
	return config, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if err := limits.ValidateChunkSize(config.chunkSize); err != nil {
		return err
	}
	if config.dialTimeout < 0 {
		return fmt.Errorf("dial timeout cannot be negative")
	}
	if config.transport != cli.TransportTCP && config.transport != cli.TransportRPC {
		return fmt.Errorf("invalid transport %q: must be tcp or rpc", config.transport)
	}
	if config.transport == cli.TransportRPC && config.socks5 != "" {
		return fmt.Errorf("-socks5 is only supported with the tcp transport")
	}
	return nil
}

// createSenderConfig converts CLI configuration to a sender configuration.
func createSenderConfig(config *CLIConfig) (*transport.SenderConfig, error) {
	sc := transport.DefaultSenderConfig()
	sc.ChunkSize = config.chunkSize
	sc.DialTimeout = config.dialTimeout
	if config.socks5 != "" {
		proxy, err := cli.ParseSOCKS5(config.socks5)
		if err != nil {
			return nil, err
		}
		sc.Proxy = proxy
	}
	return sc, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	config, err := parseCLIFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := validateCLIConfig(config); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	if err := cli.ConfigureLogging(stderr, config.logLevel, config.logFormat); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	if config.transport == cli.TransportRPC {
		return sendRPC(config, stdout, stderr)
	}

	senderConfig, err := createSenderConfig(config)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	sender, err := transport.NewSender(senderConfig)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	result, err := sender.Send(ctx, config.address, config.path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Sent %s (%d bytes) to %s in %v\n", result.Name, result.Sent, config.address, result.Duration)
	return 0
}

func sendRPC(config *CLIConfig, stdout, stderr io.Writer) int {
	client, err := rpc.NewClient(config.address, config.dialTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer client.Close()
	fmt.Fprintf(stdout, "Connecting to RPC server at %s\n", client.URL())

	reply, err := client.SaveFile(config.path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Server replied: %s\n", reply)
	return 0
}

func main() {
	ctx, cancel := cli.SignalContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
