package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/device-pki/interfaces"
)

// JSON-RPC methods exposed by the root-of-trust runtime API.
const (
	MethodIsRootValid  = "rootOfTrust_isRootCertificateValid"
	MethodIsChildValid = "rootOfTrust_isChildCertificateValid"
)

// Client implements interfaces.Ledger over the ledger node's JSON-RPC API.
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
}

// Dial connects to a ledger node. HTTP(S) and WS(S) endpoints are supported.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	c, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: could not dial ledger %s: %v", interfaces.ErrTransport, rawURL, err)
	}
	return NewClient(c), nil
}

// NewClient wraps an existing RPC client.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

// WithTimeout bounds every query. Zero disables the bound.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// IsRootValid implements interfaces.Ledger.
func (c *Client) IsRootValid(ctx context.Context, signer interfaces.Address) (bool, error) {
	var valid bool
	if err := c.call(ctx, &valid, MethodIsRootValid, signer.String()); err != nil {
		return false, err
	}
	return valid, nil
}

// IsChildValid implements interfaces.Ledger.
func (c *Client) IsChildValid(ctx context.Context, root interfaces.Address, child interfaces.Address) (bool, error) {
	var valid bool
	if err := c.call(ctx, &valid, MethodIsChildValid, root.String(), child.String()); err != nil {
		return false, err
	}
	return valid, nil
}

// Close terminates the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%w: %s: %v", interfaces.ErrTransport, method, err)
	}
	return nil
}
