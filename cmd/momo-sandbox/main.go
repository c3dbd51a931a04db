// Command momo-sandbox provisions sandbox API credentials and prints
// them as JSON. Credentials are emitted, never stored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slog"

	"github.com/nugget-digital/momo/collections"
	"github.com/nugget-digital/momo/config"
	"github.com/nugget-digital/momo/sandbox"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "momo-sandbox: %v\n", err)
		os.Exit(1)
	}
}

// credentials is the printed shape, matching what the config file and
// MOMO_* environment expect as input.
type credentials struct {
	SubscriptionKey string `json:"subscription_key"`
	APIUser         string `json:"api_user"`
	APIKey          string `json:"api_key"`
}

func run(args []string, out *os.File) error {
	flags := flag.NewFlagSet("momo-sandbox", flag.ContinueOnError)
	subscriptionKey := flags.String("subscription-key", "", "collections subscription key (required)")
	callbackHost := flags.String("callback-host", config.FallbackCallbackHost, "host the platform will deliver callbacks to")
	baseURL := flags.String("base-url", collections.SandboxBaseURL, "sandbox platform base url")
	verbose := flags.Bool("v", false, "debug logging")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *subscriptionKey == "" {
		return fmt.Errorf("--subscription-key is required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger.Debug("provisioning sandbox credentials",
		slog.String("base_url", *baseURL),
		slog.String("callback_host", *callbackHost),
	)

	creds, err := sandbox.NewProvisioner(*baseURL, *subscriptionKey, nil).Provision(ctx, *callbackHost)
	if err != nil {
		return err
	}

	return json.NewEncoder(out).Encode(credentials{
		SubscriptionKey: creds.SubscriptionKey,
		APIUser:         creds.APIUser,
		APIKey:          creds.APIKey,
	})
}
