package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"buildforge/internal/cli/config"
	httpclient "buildforge/internal/cli/http"
	"buildforge/internal/cli/repl"
)

const defaultConfigPath = "configs/buildctl.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10m)")
	outputDir := flag.String("out", "", "Override artifact output directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	session := repl.New(client, cfg.OutputDir)
	session.Run(context.Background())
}
