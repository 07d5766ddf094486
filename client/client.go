// Package client talks to the launcherd daemon over gRPC.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/api/launcherpb"
)

const (
	// DefaultSocketPath is the default Unix socket path for the daemon.
	DefaultSocketPath = "/tmp/launcherd.sock"

	// DefaultConnectTimeout bounds how long ConnectWithRetry waits for the
	// daemon to come up.
	DefaultConnectTimeout = 10 * time.Second
)

// Client is the main client for interacting with the launcherd daemon.
type Client struct {
	conn *grpc.ClientConn

	Query launcherpb.QueryServiceClient
}

// Connect connects to the launcherd daemon.
// The address can be:
//   - A Unix socket path (e.g., "/tmp/launcherd.sock")
//   - A TCP address (e.g., "localhost:50051")
//
// If the address starts with "unix://", it will be treated as a Unix socket.
// Otherwise, if it contains ":" it will be treated as TCP, else Unix socket.
func Connect(address string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(target(address), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", address, err)
	}

	return &Client{
		conn:  conn,
		Query: launcherpb.NewQueryServiceClient(conn),
	}, nil
}

func target(address string) string {
	switch {
	case strings.HasPrefix(address, "unix://"):
		return address
	case strings.Contains(address, ":") && !strings.HasPrefix(address, "/"):
		return address
	default:
		return "unix://" + address
	}
}

// ConnectWithRetry connects and then waits, with exponential backoff, until
// the daemon answers a ListProviders call. It gives up after timeout.
func ConnectWithRetry(ctx context.Context, address string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	c, err := Connect(address, opts...)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = timeout

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := c.Query.ListProviders(pingCtx, &structpb.Struct{})
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(eb, ctx)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("daemon at %s is not reachable: %w", address, err)
	}
	return c, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
