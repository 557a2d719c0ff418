package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	oneclient "github.com/oneclient-dev/oneclient-host"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	hostlog "github.com/oneclient-dev/oneclient-host/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newPerformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perform",
		Short: "Perform a use case",
		Long: `Perform a use case of a profile with a provider and print its result as JSON.

JSON flags take inline JSON or @file:
  oneclient perform -c oneclient.toml --profile weather/current-city \
    --usecase GetWeather --provider wttr-in --input '{"city":"Prague"}'

A map error is printed like a result and the command exits with status 1.`,
		Args: cobra.NoArgs,
		RunE: runPerform,
	}

	cmd.Flags().String("core", "", "Core image (overrides the configuration)")
	cmd.Flags().String("assets", "", "Directory holding profiles, providers and maps (overrides the configuration)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	cmd.Flags().String("profile", "", "Profile name, such as weather/current-city")
	cmd.Flags().String("usecase", "", "Use case name")
	cmd.Flags().String("provider", "", "Provider name")
	cmd.Flags().String("input", "", "Use case input as JSON or @file")
	cmd.Flags().String("parameters", "", "Provider parameters as a JSON object or @file")
	cmd.Flags().String("security", "", "Provider security values as a JSON object or @file")

	for _, name := range []string{"profile", "usecase", "provider"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runPerform(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if core, _ := cmd.Flags().GetString("core"); core != "" {
		cfg.Core = core
	}
	if assets, _ := cmd.Flags().GetString("assets"); assets != "" {
		cfg.Assets = assets
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	profile, _ := cmd.Flags().GetString("profile")
	usecase, _ := cmd.Flags().GetString("usecase")
	provider, _ := cmd.Flags().GetString("provider")
	rawInput, _ := cmd.Flags().GetString("input")
	rawParameters, _ := cmd.Flags().GetString("parameters")
	rawSecurity, _ := cmd.Flags().GetString("security")

	input, err := parseJSONFlag("input", rawInput)
	if err != nil {
		return err
	}
	parameters, err := parseObjectFlag("parameters", rawParameters)
	if err != nil {
		return err
	}
	security, err := parseObjectFlag("security", rawSecurity)
	if err != nil {
		return err
	}

	logger, err := hostlog.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := oneclient.NewClient(ctx, cfg, oneclient.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, client.Close(context.WithoutCancel(ctx)))
	}()

	result, err := client.Perform(ctx, profile, usecase, input, oneclient.PerformOptions{
		Provider:   provider,
		Parameters: parameters,
		Security:   security,
	})

	var perr *domainerrors.PerformError
	switch {
	case errors.As(err, &perr):
		logger.Debug("map returned an error", zap.String("usecase", usecase))
		if werr := writeJSON(cmd, perr.ErrorResult); werr != nil {
			return werr
		}
		return err
	case err != nil:
		return err
	}
	return writeJSON(cmd, result)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
