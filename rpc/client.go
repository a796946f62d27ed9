package rpc

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/file"
)

// Client calls save_file on a remote server.
type Client struct {
	url       string
	xml       *xmlrpc.Client
	transport *http.Transport
}

// NewClient returns a client for the server at addr (host:port). timeout
// bounds connection establishment; zero means no timeout. No connection is
// made until the first call.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
	}
	url := "http://" + addr + "/RPC2"
	xc, err := xmlrpc.NewClient(url, transport)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc client %s: %w", url, err)
	}
	return &Client{url: url, xml: xc, transport: transport}, nil
}

// URL returns the endpoint calls are posted to.
func (c *Client) URL() string {
	return c.url
}

// SaveFile uploads the regular file at path and returns the server's reply.
// Only the basename of path is sent.
func (c *Client) SaveFile(path string) (string, error) {
	src, err := file.NewOutgoing(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SaveFile",
		"url":       c.url,
		"file_name": src.FileName,
		"file_size": len(data),
	}).Info("Sending file")

	return c.Save(src.FileName, data)
}

// Save calls save_file with name and data as given.
func (c *Client) Save(name string, data []byte) (string, error) {
	var reply string
	if err := c.xml.Call(MethodName, []interface{}{name, data}, &reply); err != nil {
		return "", fmt.Errorf("%s: %w", MethodName, err)
	}
	return reply, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return c.xml.Close()
}
