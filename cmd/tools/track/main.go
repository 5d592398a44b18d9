package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/usps-tracking/internal/config"
	"github.com/noah-isme/usps-tracking/internal/shipping"
	"github.com/noah-isme/usps-tracking/internal/usps"
)

// track looks up a single identifier with the credentials from the environment and prints
// the normalised details as JSON.
// Exit code 0 = ok, 1 = carrier or authentication error, 2 = other error.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 0, "request timeout (defaults to USPS_TIMEOUT)")
	verbose := fs.Bool("v", false, "log lookup failures to stderr")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: track [flags] <tracking-id>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "track: %v\n", err)
		return 2
	}
	if *timeout <= 0 {
		*timeout = cfg.USPSTimeout
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}
	svc := &shipping.Service{
		Driver: usps.New(cfg.USPSAPIKey, cfg.USPSSourceID,
			usps.WithHTTPClient(usps.NewHTTPClient(*timeout, nil)),
			usps.WithBaseURL(cfg.USPSBaseURL),
		),
		Logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	details, err := svc.Track(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "track: %v\n", err)
		return exitCode(err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(details); err != nil {
		fmt.Fprintf(stderr, "track: encode: %v\n", err)
		return 2
	}
	return 0
}

func exitCode(err error) int {
	if errors.Is(err, shipping.ErrCarrierReported) || errors.Is(err, shipping.ErrAuthenticationFailed) {
		return 1
	}
	return 2
}
