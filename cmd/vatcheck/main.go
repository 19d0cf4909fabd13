package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"vies-gateway/internal/config"
	"vies-gateway/internal/logger"
	"vies-gateway/internal/models"
	"vies-gateway/internal/validate"
	"vies-gateway/internal/vies"
)

// vatcheck asks the upstream service about one number, bypassing the
// scheduler and the cache. It exits non-zero unless the call succeeded.
func main() {
	endpoint := flag.String("endpoint", "", "checkVat endpoint (defaults to VIES_ENDPOINT)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-endpoint url] VATNUMBER\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if *endpoint != "" {
		cfg.VIESEndpoint = *endpoint
	}
	log := logger.New(cfg.Env, cfg.LogLevel, os.Stderr)

	vat := validate.Normalize(strings.Join(flag.Args(), ""))
	res := check(context.Background(), vies.NewClient(cfg.VIESEndpoint, log), vat, cfg)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.WithError(err).Fatal("encode result")
	}
	if res.Err != nil {
		os.Exit(1)
	}
}

func check(ctx context.Context, client *vies.Client, vat string, cfg config.Config) models.Result {
	if bad := validate.Check(vat, models.ModeSync, ""); bad != nil {
		return models.Failure(bad)
	}
	cc, number := validate.Split(vat)
	v, err := client.Check(ctx, cc, number, cfg.VIESSyncTimeout)
	if err != nil {
		return models.Failure(models.AsErrorResult(err))
	}
	return models.Success(v)
}
