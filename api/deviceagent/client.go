package deviceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
)

// Client talks to a device agent over HTTP.
//
// Network failures and replies that cannot be parsed wrap
// interfaces.ErrTransport. Replies with an error status are returned as
// *RejectedError.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the device at baseURL. A nil httpClient
// selects http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// Identity fetches the device address and certificates.
func (c *Client) Identity(ctx context.Context) (*IdentityResponse, error) {
	var resp IdentityResponse
	if err := c.do(ctx, http.MethodGet, PathIdentity, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Address == "" {
		return nil, fmt.Errorf("%w: identity reply without address", interfaces.ErrTransport)
	}
	return &resp, nil
}

// SubmitCertificate posts a certificate to the device intake endpoint.
func (c *Client) SubmitCertificate(ctx context.Context, certificate interfaces.EncodedCertificate) error {
	var resp CertificateResponse
	if err := c.do(ctx, http.MethodPost, PathCertificate, CertificateRequest{Certificate: &certificate}, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return &RejectedError{StatusCode: http.StatusOK, Message: "device did not accept the certificate"}
	}
	return nil
}

// Challenge asks the device to sign challenge. The signature field is
// returned as sent: nil when absent or null, undecoded otherwise. A reply
// that is not JSON, or whose signature is not a string, yields an error
// wrapping ErrMalformedReply.
func (c *Client) Challenge(ctx context.Context, challenge []byte) (*string, error) {
	encoded := cryptoutils.EncodeHex(challenge)

	var resp struct {
		Signature json.RawMessage `json:"signature"`
	}
	if err := c.do(ctx, http.MethodPost, PathChallenge, ChallengeRequest{Challenge: &encoded}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Signature) == 0 || string(resp.Signature) == "null" {
		return nil, nil
	}

	var signature string
	if err := json.Unmarshal(resp.Signature, &signature); err != nil {
		return nil, fmt.Errorf("%w: %w: signature is not a string: %v", interfaces.ErrTransport, ErrMalformedReply, err)
	}
	return &signature, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: could not initialize request: %v", interfaces.ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", interfaces.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxRequestBodySize))
	if err != nil {
		return fmt.Errorf("%w: could not read response: %v", interfaces.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(respBody))
		}
		return &RejectedError{
			StatusCode: resp.StatusCode,
			Reason:     errResp.Reason,
			Message:    errResp.Error,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %w: could not parse response: %v", interfaces.ErrTransport, ErrMalformedReply, err)
	}
	return nil
}
