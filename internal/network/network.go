// Package network reports whether the network is reachable.
package network

import (
	"context"
	"net"
	"time"
)

// Checker reports network reachability.
type Checker interface {
	Online(ctx context.Context) bool
}

// Static is a Checker with a fixed answer.
type Static bool

func (s Static) Online(context.Context) bool {
	return bool(s)
}

// Func adapts a function to a Checker.
type Func func(ctx context.Context) bool

func (f Func) Online(ctx context.Context) bool {
	return f(ctx)
}

// DialChecker considers the network online when a TCP connection to Addr succeeds.
type DialChecker struct {
	Addr    string
	Timeout time.Duration

	dialer net.Dialer
}

// NewDialChecker creates a DialChecker for addr ("host:port").
func NewDialChecker(addr string, timeout time.Duration) *DialChecker {
	return &DialChecker{Addr: addr, Timeout: timeout}
}

func (c *DialChecker) Online(ctx context.Context) bool {
	if c.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false
	}

	conn.Close()

	return true
}
