package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/device-pki/api/deviceagent"
	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/pki"
	"golang.org/x/sync/errgroup"
)

// ChallengeSize is the number of random bytes a device is asked to sign.
const ChallengeSize = 100

// Client provisions and verifies devices over their HTTP surface.
type Client struct {
	ca         *pki.CertificateAuthority
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

// NewClient creates a provisioning client. A nil httpClient selects
// http.DefaultClient; callers wanting timeouts should pass their own.
func NewClient(ca *pki.CertificateAuthority, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		ca:         ca,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

func (c *Client) device(deviceURL string) *deviceagent.Client {
	return deviceagent.NewClient(deviceURL, c.httpClient)
}

// FetchIdentity reads the identity a device reports about itself.
func (c *Client) FetchIdentity(ctx context.Context, deviceURL string) (*interfaces.DeviceIdentity, error) {
	resp, err := c.device(deviceURL).Identity(ctx)
	if err != nil {
		return nil, err
	}
	return &interfaces.DeviceIdentity{
		Address:        resp.Address,
		HasCertificate: resp.HasCertificate,
		Certificates:   resp.Certificates,
	}, nil
}

// Burn issues a certificate valid for expiry to the device at deviceURL and
// submits it. A device that already holds a certificate is refused with
// interfaces.ErrAlreadyProvisioned before anything is written to it.
func (c *Client) Burn(ctx context.Context, deviceURL string, signer *cryptoutils.Keypair, expiry time.Duration) (interfaces.EncodedCertificate, error) {
	identity, err := c.FetchIdentity(ctx, deviceURL)
	if err != nil {
		return "", err
	}
	if identity.HasCertificate {
		return "", fmt.Errorf("%w: %s", interfaces.ErrAlreadyProvisioned, identity.Address)
	}

	now := c.now()
	encoded, err := pki.SignAndEncode(identity.Address, signer, now, now.Add(expiry))
	if err != nil {
		return "", fmt.Errorf("could not issue certificate for %s: %w", identity.Address, err)
	}

	if err := c.device(deviceURL).SubmitCertificate(ctx, encoded); err != nil {
		return "", err
	}

	c.log.Info("Certificate burned",
		slog.String("device", identity.Address.String()),
		slog.String("signer", signer.Address().String()),
		slog.Time("expires", now.Add(expiry)))

	return encoded, nil
}

// ChallengeFailure reports that a device did not prove possession of the key
// behind its claimed address.
type ChallengeFailure struct {
	Device interfaces.Address
	Reason string
	Err    error
}

func (f *ChallengeFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("challenge failed for %s: %s: %v", f.Device, f.Reason, f.Err)
	}
	return fmt.Sprintf("challenge failed for %s: %s", f.Device, f.Reason)
}

// Unwrap makes a ChallengeFailure match interfaces.ErrChallengeFailure.
func (f *ChallengeFailure) Unwrap() []error {
	if f.Err != nil {
		return []error{interfaces.ErrChallengeFailure, f.Err}
	}
	return []error{interfaces.ErrChallengeFailure}
}

// ChallengeDevice asks the device to sign ChallengeSize random bytes and
// checks the signature against claimed.
//
// A device that answers wrongly yields a *ChallengeFailure and a nil error.
// The error is reserved for failures to reach the device at all.
func (c *Client) ChallengeDevice(ctx context.Context, deviceURL string, claimed interfaces.Address) (*ChallengeFailure, error) {
	nonce, err := cryptoutils.RandomBytes(ChallengeSize)
	if err != nil {
		return nil, fmt.Errorf("could not generate challenge: %w", err)
	}

	fail := func(reason string, err error) *ChallengeFailure {
		return &ChallengeFailure{Device: claimed, Reason: reason, Err: err}
	}

	signature, err := c.device(deviceURL).Challenge(ctx, nonce)
	var rejected *deviceagent.RejectedError
	switch {
	case errors.As(err, &rejected):
		return fail("device refused the challenge", rejected), nil
	case errors.Is(err, deviceagent.ErrMalformedReply):
		return fail("malformed signature", err), nil
	case err != nil:
		return nil, err
	case signature == nil:
		return fail("no signature present in challenge reply", nil), nil
	}

	raw, err := cryptoutils.DecodeHex(*signature)
	if err != nil {
		return fail("malformed signature", err), nil
	}

	ok, err := cryptoutils.Verify(claimed, nonce, raw)
	if err != nil {
		return fail("claimed address is not a valid public key", err), nil
	}
	if !ok {
		return fail("the device was not able to prove ownership of its keypair", nil), nil
	}

	return nil, nil
}

// Failure records why one certificate did not verify.
type Failure struct {
	Certificate interfaces.EncodedCertificate
	Reason      error
}

// Report is the outcome of verifying one device.
type Report struct {
	Address interfaces.Address
	// Challenge is set when the device failed the challenge. Certificates
	// are not inspected in that case.
	Challenge *ChallengeFailure
	// Certificates is the number of certificates the device reported.
	Certificates int
	Failures     []Failure
	// Valid is true when the challenge succeeded, the device holds at least
	// one certificate and every certificate verified.
	Valid bool
}

// Verify authenticates the device at deviceURL. The device must first prove
// possession of its key; then every certificate it holds is checked online
// against ledger and must be issued to the device's address.
//
// Certificate and challenge failures are collected in the Report. The
// returned error is set only for transport failures, to the device or to
// the ledger, which abort verification.
func (c *Client) Verify(ctx context.Context, deviceURL string, ledger interfaces.Ledger) (*Report, error) {
	identity, err := c.FetchIdentity(ctx, deviceURL)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Address:      identity.Address,
		Certificates: len(identity.Certificates),
	}

	failure, err := c.ChallengeDevice(ctx, deviceURL, identity.Address)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		c.log.Warn("Device failed challenge", "err", failure, slog.String("device", identity.Address.String()))
		report.Challenge = failure
		return report, nil
	}

	for _, certificate := range identity.Certificates {
		err := c.ca.VerifyOnline(ctx, certificate, ledger)
		if err == nil {
			err = pki.CheckAddress(certificate, identity.Address)
		}
		if errors.Is(err, interfaces.ErrTransport) {
			return nil, err
		}
		if err != nil {
			c.log.Warn("Certificate failed verification",
				slog.String("device", identity.Address.String()),
				slog.String("reason", interfaces.Reason(err)),
				"err", err)
			report.Failures = append(report.Failures, Failure{Certificate: certificate, Reason: err})
		}
	}

	report.Valid = report.Certificates > 0 && len(report.Failures) == 0
	return report, nil
}

// DeviceResult is the outcome of verifying one device in VerifyAll.
type DeviceResult struct {
	URL    string
	Report *Report
	Err    error
}

// VerifyAll verifies devices concurrently, at most limit at a time (no bound
// when limit <= 0). A transport failure is recorded for its device only.
// Results are in the order of deviceURLs.
func (c *Client) VerifyAll(ctx context.Context, deviceURLs []string, ledger interfaces.Ledger, limit int) []DeviceResult {
	results := make([]DeviceResult, len(deviceURLs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, deviceURL := range deviceURLs {
		i, deviceURL := i, deviceURL
		g.Go(func() error {
			report, err := c.Verify(gctx, deviceURL, ledger)
			results[i] = DeviceResult{URL: deviceURL, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
