// Package main provides xfer-recv, which listens on a port and stores each
// file it receives.
//
// Usage:
//
//	xfer-recv [options] <port>
//
// Files are written to the -output directory under their basename. The
// server runs until interrupted. It exits with status 1 on a usage error
// or when the port cannot be bound.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/file"
	"github.com/opd-ai/tcpxfer/internal/cli"
	"github.com/opd-ai/tcpxfer/limits"
	"github.com/opd-ai/tcpxfer/rpc"
	"github.com/opd-ai/tcpxfer/transport"
)

// CLI configuration
type CLIConfig struct {
	outputDir     string
	chunkSize     int
	strict        bool
	maxConcurrent int
	readTimeout   time.Duration
	transport     string
	logLevel      string
	logFormat     string

	address string
}

// parseCLIFlags parses args (without the program name).
func parseCLIFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet("xfer-recv", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&config.outputDir, "output", file.DefaultOutputDir, "Directory for received files")
	fs.IntVar(&config.chunkSize, "chunk-size", limits.DefaultChunkSize, "Largest payload read")
	fs.BoolVar(&config.strict, "strict", false, "Treat short transfers as errors")
	fs.IntVar(&config.maxConcurrent, "max-concurrent", 1, "Connections handled at once")
	fs.DurationVar(&config.readTimeout, "read-timeout", 0, "Per-read timeout (0 disables)")
	fs.StringVar(&config.transport, "transport", cli.TransportTCP, "Transport: tcp or rpc")
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFormat, "log-format", "text", "Log format (text, json)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [options] <port>\n\nOptions:\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected 1 argument, got %d", fs.NArg())
	}

	port, err := cli.ParsePort(fs.Arg(0), true)
	if err != nil {
		return nil, err
	}
	config.address = net.JoinHostPort("", strconv.Itoa(int(port)))
	return config, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.outputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if err := limits.ValidateChunkSize(config.chunkSize); err != nil {
		return err
	}
	if config.maxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}
	if config.readTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative")
	}
	if config.transport != cli.TransportTCP && config.transport != cli.TransportRPC {
		return fmt.Errorf("invalid transport %q: must be tcp or rpc", config.transport)
	}
	return nil
}

// createReceiverConfig converts CLI configuration to a receiver configuration.
func createReceiverConfig(config *CLIConfig) *transport.ReceiverConfig {
	rc := transport.DefaultReceiverConfig()
	rc.OutputDir = config.outputDir
	rc.ChunkSize = config.chunkSize
	rc.Strict = config.strict
	rc.ReadTimeout = config.readTimeout
	return rc
}

// serve runs the configured server until ctx is cancelled. ready, if not
// nil, receives the bound address once listening.
func serve(ctx context.Context, config *CLIConfig, stdout io.Writer, ready chan<- net.Addr) error {
	if config.transport == cli.TransportRPC {
		return serveRPC(ctx, config, stdout, ready)
	}

	receiver, err := transport.NewReceiver(createReceiverConfig(config))
	if err != nil {
		return err
	}
	listener, err := transport.NewListener(&transport.ListenerConfig{MaxConcurrent: config.maxConcurrent}, receiver)
	if err != nil {
		return err
	}
	listener.OnResult(func(res *transport.Result, err error) {
		if res != nil {
			fmt.Fprintf(stdout, "Received %s (%d/%d bytes) -> %s\n", res.Name, res.Received, res.FileSize, res.Path)
		}
	})

	if err := listener.Listen(config.address); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Listening on %s, saving to %s\n", listener.Addr(), receiver.OutputDir())
	if ready != nil {
		ready <- listener.Addr()
	}

	err = listener.Serve(ctx)
	stats := receiver.Stats()
	logrus.WithFields(logrus.Fields{
		"function":    "serve",
		"completed":   stats.Completed,
		"short":       stats.Short,
		"failed":      stats.Failed,
		"disconnects": stats.Disconnects,
		"bytes":       stats.Bytes,
	}).Info("Server stopped")
	return err
}

func serveRPC(ctx context.Context, config *CLIConfig, stdout io.Writer, ready chan<- net.Addr) error {
	rc := rpc.DefaultServerConfig()
	rc.OutputDir = config.outputDir
	server, err := rpc.NewServer(rc)
	if err != nil {
		return err
	}
	if err := server.Listen(config.address); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "RPC server listening on %s, saving to %s\n", server.Addr(), server.OutputDir())
	if ready != nil {
		ready <- server.Addr()
	}
	return server.Serve(ctx)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready chan<- net.Addr) int {
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

	if err := serve(ctx, config, stdout, ready); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, cancel := cli.SignalContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	cancel()
	os.Exit(code)
}
