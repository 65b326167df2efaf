package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ruteri/device-pki/cmd/flags"
	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/ledger"
	"github.com/ruteri/device-pki/pki"
	"github.com/ruteri/device-pki/provisioning"
	"github.com/urfave/cli/v2"
)

var flagConcurrency = &cli.IntFlag{
	Name:  "concurrency",
	Value: 8,
	Usage: "number of devices verified at the same time",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "timeout for device and ledger requests",
}

func main() {
	app := &cli.App{
		Name:  "pki",
		Usage: "Issue device certificates and verify devices against the ledger",
		Flags: append([]cli.Flag{
			flags.LogServiceFlagFn("device_pki_cli"),
			flagTimeout,
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:   "new",
				Usage:  "Generate a signer keypair",
				Action: newKeypair,
			},
			{
				Name:      "certify",
				Usage:     "Issue a certificate for a device address",
				ArgsUsage: "<deviceAddress>",
				Flags:     []cli.Flag{flags.SeedFlag, flags.ExpiryFlag},
				Action:    certify,
			},
			{
				Name:      "verify",
				Usage:     "Verify an encoded certificate, including its status on the ledger",
				ArgsUsage: "<certificate>",
				Flags:     []cli.Flag{flags.RpcAddrFlag},
				Action:    verifyCertificate,
			},
			{
				Name:      "inspect",
				Usage:     "Ask the ledger whether a signer is a valid root",
				ArgsUsage: "<signerAddress>",
				Flags:     []cli.Flag{flags.RpcAddrFlag},
				Action:    inspect,
			},
			{
				Name:   "identity",
				Usage:  "Print the identity a device reports",
				Flags:  []cli.Flag{flags.DeviceURLFlag},
				Action: identity,
			},
			{
				Name:   "burn",
				Usage:  "Issue a certificate to a factory device and submit it",
				Flags:  []cli.Flag{flags.DeviceURLFlag, flags.SeedFlag, flags.ExpiryFlag},
				Action: burn,
			},
			{
				Name:   "verify-device",
				Usage:  "Challenge devices and verify every certificate they hold",
				Flags:  []cli.Flag{flags.DeviceURLsFlag, flags.RpcAddrFlag, flagConcurrency},
				Action: verifyDevice,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newKeypair(cCtx *cli.Context) error {
	kp, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return err
	}
	fmt.Printf("Address:    %s\n", kp.Address())
	fmt.Printf("Public key: %s\n", cryptoutils.EncodeHex(kp.PublicKey()))
	fmt.Printf("Seed:       %s\n", cryptoutils.EncodeHex(kp.Seed()))
	return nil
}

func certify(cCtx *cli.Context) error {
	device := interfaces.Address(cCtx.Args().First())
	if device == "" {
		return errors.New("missing device address")
	}

	signer, err := cryptoutils.NewKeypairFromHexSeed(cCtx.String(flags.SeedFlag.Name))
	if err != nil {
		return err
	}

	now := time.Now()
	cert, err := pki.Sign(device, signer, now, now.Add(cCtx.Duration(flags.ExpiryFlag.Name)))
	if err != nil {
		return err
	}
	encoded, err := cert.Encode()
	if err != nil {
		return err
	}

	printCertificate(cert)
	fmt.Printf("Encoded:    %s\n", encoded)
	return nil
}

func verifyCertificate(cCtx *cli.Context) error {
	encoded := interfaces.EncodedCertificate(cCtx.Args().First())
	if encoded == "" {
		return errors.New("missing certificate")
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	cert, err := pki.Decode(encoded)
	if err != nil {
		fmt.Printf("Invalid:    %s (%v)\n", interfaces.Reason(err), err)
		return cli.Exit("", 1)
	}
	printCertificate(cert)

	l, err := dialLedger(ctx, cCtx)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := pki.NewCertificateAuthority().VerifyOnline(ctx, encoded, l); err != nil {
		if errors.Is(err, interfaces.ErrTransport) {
			return err
		}
		fmt.Printf("Invalid:    %s (%v)\n", interfaces.Reason(err), err)
		return cli.Exit("", 1)
	}
	fmt.Println("Valid")
	return nil
}

func inspect(cCtx *cli.Context) error {
	signer := interfaces.Address(cCtx.Args().First())
	if err := cryptoutils.ValidateAddress(signer); err != nil {
		return fmt.Errorf("invalid signer address: %w", err)
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	l, err := dialLedger(ctx, cCtx)
	if err != nil {
		return err
	}
	defer l.Close()

	valid, err := l.IsRootValid(ctx, signer)
	if err != nil {
		return err
	}
	fmt.Printf("Signer %s valid root: %t\n", signer, valid)
	return nil
}

func identity(cCtx *cli.Context) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	id, err := newProvisioningClient(cCtx).FetchIdentity(ctx, cCtx.String(flags.DeviceURLFlag.Name))
	if err != nil {
		return err
	}

	fmt.Printf("Address:        %s\n", id.Address)
	fmt.Printf("Mode:           %s\n", interfaces.ModeFor(id.Certificates))
	fmt.Printf("HasCertificate: %t\n", id.HasCertificate)
	for i, c := range id.Certificates {
		fmt.Printf("Certificate %d:  %s\n", i, c)
	}
	return nil
}

func burn(cCtx *cli.Context) error {
	signer, err := cryptoutils.NewKeypairFromHexSeed(cCtx.String(flags.SeedFlag.Name))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	encoded, err := newProvisioningClient(cCtx).Burn(ctx, cCtx.String(flags.DeviceURLFlag.Name), signer, cCtx.Duration(flags.ExpiryFlag.Name))
	if err != nil {
		return err
	}
	fmt.Printf("Burned:     %s\n", encoded)
	return nil
}

func verifyDevice(cCtx *cli.Context) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	l, err := dialLedger(ctx, cCtx)
	if err != nil {
		return err
	}
	defer l.Close()

	urls := cCtx.StringSlice(flags.DeviceURLsFlag.Name)
	failed := verifyDevices(ctx, os.Stdout, newProvisioningClient(cCtx), urls, l, cCtx.Int(flagConcurrency.Name))
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d devices failed verification", failed, len(urls)), 1)
	}
	return nil
}

// verifyDevices verifies urls concurrently, writes one report per device to
// w and returns the number of devices that did not verify.
func verifyDevices(ctx context.Context, w io.Writer, client *provisioning.Client, urls []string, l interfaces.Ledger, limit int) int {
	failed := 0
	for _, res := range client.VerifyAll(ctx, urls, l, limit) {
		if !printReport(w, res) {
			failed++
		}
	}
	return failed
}

func printReport(w io.Writer, res provisioning.DeviceResult) bool {
	fmt.Fprintf(w, "URL:          %s\n", res.URL)
	if res.Err != nil {
		fmt.Fprintf(w, "Error:        %s (%v)\n\n", interfaces.Reason(res.Err), res.Err)
		return false
	}

	report := res.Report
	fmt.Fprintf(w, "Device:       %s\n", report.Address)
	if report.Challenge != nil {
		fmt.Fprintf(w, "Challenge:    failed (%s)\n\n", report.Challenge.Reason)
		return false
	}
	fmt.Fprintln(w, "Challenge:    ok")
	fmt.Fprintf(w, "Certificates: %d\n", report.Certificates)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  %s: %v\n    %s\n", interfaces.Reason(f.Reason), f.Reason, f.Certificate)
	}
	if !report.Valid {
		fmt.Fprint(w, "Result:       invalid\n\n")
		return false
	}
	fmt.Fprint(w, "Result:       valid\n\n")
	return true
}

func printCertificate(cert *pki.Certificate) {
	fmt.Printf("Version:    %s\n", cert.Version)
	fmt.Printf("Device:     %s\n", cert.Payload.DeviceAddress)
	fmt.Printf("Signer:     %s\n", cert.Payload.SignerAddress)
	fmt.Printf("Created:    %s\n", cert.CreationTime().UTC().Format(time.RFC3339))
	fmt.Printf("Expires:    %s\n", cert.ExpirationTime().UTC().Format(time.RFC3339))
	fmt.Printf("Hash:       %s\n", cert.Hash)
	fmt.Printf("Signature:  %s\n", cert.Signature)
}

func dialLedger(ctx context.Context, cCtx *cli.Context) (*ledger.Client, error) {
	logger := flags.SetupLogger(cCtx)
	rpcAddr := cCtx.String(flags.RpcAddrFlag.Name)

	logger.Debug("Connecting to ledger", slog.String("rpc", rpcAddr))
	l, err := ledger.Dial(ctx, rpcAddr)
	if err != nil {
		logger.Error("Failed to dial ledger", "err", err, "rpc", rpcAddr)
		return nil, err
	}
	return l.WithTimeout(cCtx.Duration(flagTimeout.Name)), nil
}

func newProvisioningClient(cCtx *cli.Context) *provisioning.Client {
	return provisioning.NewClient(
		pki.NewCertificateAuthority(),
		&http.Client{Timeout: cCtx.Duration(flagTimeout.Name)},
		flags.SetupLogger(cCtx),
	)
}
