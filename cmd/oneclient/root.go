package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/oneclient-dev/oneclient-host/application/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oneclient",
		Short: "Run OneClient use cases in a WASM sandbox",
		Long: `oneclient - Perform use cases of OneClient profiles.

The core runs inside a WebAssembly sandbox. It reaches the network and the
filesystem only through the capabilities enabled in the configuration file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Configuration file (toml, yaml or json)")

	root.AddCommand(newPerformCmd(), newSchemaCmd(), newVersionCmd())
	return root
}

// loadConfig reads the --config file, or starts from the defaults.
// The result is not validated so flags can fill in missing keys.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

// parseJSONFlag decodes a flag value that is either inline JSON or @file.
func parseJSONFlag(name, value string) (any, error) {
	if value == "" {
		return nil, nil
	}

	data := []byte(value)
	if file, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("--%s: invalid JSON: %w", name, err)
	}
	return v, nil
}

// parseObjectFlag is parseJSONFlag for flags that must hold an object.
func parseObjectFlag(name, value string) (map[string]any, error) {
	v, err := parseJSONFlag(name, value)
	if err != nil || v == nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("--%s: expected a JSON object", name)
	}
	return obj, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oneclient %s\n", version)
		},
	}
}
