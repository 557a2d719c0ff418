package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/oneclient-dev/oneclient-host/application/config"
	"github.com/oneclient-dev/oneclient-host/host/registry"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [config|messages]",
		Short: "Print a JSON schema",
		Long: `Print the JSON schema of the configuration file (default) or of the
messages a core may send to the host.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"config", "messages"},
		RunE:      runSchema,
	}
	cmd.Flags().Bool("compact", false, "Print the schema on one line")
	return cmd
}

func runSchema(cmd *cobra.Command, args []string) error {
	which := "config"
	if len(args) > 0 {
		which = args[0]
	}

	compact, _ := cmd.Flags().GetBool("compact")

	var (
		doc []byte
		err error
	)
	switch which {
	case "config":
		if compact {
			doc, err = config.CompactSchema()
		} else {
			doc, err = config.Schema()
		}
	case "messages":
		var reg *registry.Registry
		if reg, err = registry.NewMessageRegistry(); err == nil {
			doc, err = reg.Document()
		}
		if err == nil && compact {
			var buf bytes.Buffer
			if err = json.Compact(&buf, doc); err == nil {
				doc = buf.Bytes()
			}
		}
	default:
		return fmt.Errorf("unknown schema %q: use config or messages", which)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	return err
}
