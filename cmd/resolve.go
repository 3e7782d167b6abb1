package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fleet-feedback/internal/db"
	"github.com/sells-group/fleet-feedback/internal/fleet"
)

var resolveFormat string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run assignment column discovery and print the report",
	Long:  "Ranks and probes the columns of the assignment table without adopting anything, then prints which column a fresh start would select.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Fleet.DatabaseURL == "" {
			return eris.New("fleet.database_url is required")
		}
		pool, err := db.NewPool(cmd.Context(), cfg.Fleet.DatabaseURL, cfg.Fleet.Pool)
		if err != nil {
			return eris.Wrap(err, "connect fleet database")
		}
		defer pool.Close()

		report, err := newResolver(pool, cfg.Fleet).Discover(cmd.Context())
		var resErr *fleet.ResolutionError
		if err != nil && !errors.As(err, &resErr) {
			return err
		}
		if werr := writeReport(cmd.OutOrStdout(), report, resolveFormat); werr != nil {
			return werr
		}
		return err
	},
}

// writeReport renders a discovery report as yaml or json.
func writeReport(w io.Writer, report *fleet.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported format %q (want yaml or json)", format)
	}
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(resolveCmd)
}
