// Command evoncall issues a single controller call and prints the result.
//
//	evoncall -config configs/evonwatch.yaml GetInstances '["Base.bLight"]'
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/config"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/connection"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/logging"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/version"
)

var errUsage = errors.New("usage: evoncall [-config path] [-timeout d] <method> [json-args-array]")

func main() {
	configPath := flag.String("config", "configs/evonwatch.yaml", "path to config file")
	timeout := flag.Duration("timeout", 10*time.Second, "deadline for connect plus call")
	flag.Parse()

	method, args, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evoncall: %v\n", err)
		os.Exit(1)
	}

	// Keep stdout for the result.
	cfg.Logging.Output = "stderr"
	logger := logging.New(cfg.Logging, "evoncall", version.Version)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, method, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "evoncall: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, method string, args []any, out io.Writer) error {
	manager, err := connection.NewManager(connection.NewManagerConfig(cfg.Controller, cfg.Connection), logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.Connect(ctx); err != nil {
		return err
	}

	result, err := manager.Call(ctx, method, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	return printResult(out, result)
}

// parseCommand splits argv into the method name and its decoded argument list.
// Numbers keep their literal form.
func parseCommand(argv []string) (string, []any, error) {
	if len(argv) < 1 || len(argv) > 2 || strings.TrimSpace(argv[0]) == "" {
		return "", nil, errUsage
	}
	method := argv[0]
	if len(argv) == 1 {
		return method, nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(argv[1]))
	dec.UseNumber()

	var args []any
	if err := dec.Decode(&args); err != nil {
		return "", nil, fmt.Errorf("args must be a JSON array: %w", err)
	}
	return method, args, nil
}

func printResult(out io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		_, err := fmt.Fprintln(out, "null")
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
