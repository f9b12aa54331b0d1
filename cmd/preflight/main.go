// Command preflight is the startup gate CLI (SPEC_FULL.md §6): it
// verifies MODE/TEST_MODE coherence, signer reachability, HL_MAINNET
// agreement, and the presence of required configuration, exiting
// non-zero on any failure. Modeled on the teacher's fail-fast
// config.Load() + log.Fatal pattern in cmd/polybot/main.go, generalized
// into a standalone binary since the spec names this gate explicitly but
// the distilled spec does not specify its shape.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ordersys/hlexec/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("preflight: configuration invalid")
		os.Exit(1)
	}

	failed := false

	if cfg.Mode == "live" && cfg.TestMode {
		log.Error().Msg("preflight: MODE=live but TEST_MODE is set")
		failed = true
	}

	if cfg.Mode == "live" && len(cfg.LiveEnabledCoins) == 0 {
		log.Error().Msg("preflight: MODE=live but LIVE_ENABLED_COINS is empty")
		failed = true
	}

	if !cfg.DryRun {
		if err := checkSignerHealth(cfg.SignerAdapterURL, cfg.HLMainnet); err != nil {
			log.Error().Err(err).Msg("preflight: signer health check failed")
			failed = true
		}
	}

	if failed {
		fmt.Fprintln(os.Stderr, "preflight: FAILED")
		os.Exit(1)
	}

	log.Info().Msg("preflight: OK")
}

type healthResponse struct {
	Status    string `json:"status"`
	HLMainnet *bool  `json:"hlMainnet"`
}

func checkSignerHealth(adapterURL string, expectMainnet bool) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(adapterURL + "/health")
	if err != nil {
		return fmt.Errorf("signer unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer health returned status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("signer health response malformed: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("signer reported status %q", health.Status)
	}
	if health.HLMainnet != nil && *health.HLMainnet != expectMainnet {
		return fmt.Errorf("signer HL_MAINNET=%v does not match executor HL_MAINNET=%v", *health.HLMainnet, expectMainnet)
	}
	return nil
}
