package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensurvey/fieldform"
	"github.com/opensurvey/fieldform/factory"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := fieldform.DefaultOptions()
	verbose := false

	cmd := &cobra.Command{
		Use:   "fieldform <form.xlsx> <output-dir>",
		Short: "Convert an XLSForm workbook into a geospatial survey project",
		Long: `fieldform reads the survey, choices and settings sheets of an XLSForm
workbook and emits a data container plus a project descriptor ready for
field data collection.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			result, err := factory.ConvertFile(cmd.Context(), args[0], args[1], opts, logger)
			if err != nil {
				return err
			}

			fmt.Printf("converted %q\n", result.Title)
			fmt.Printf("  container: %s\n", result.ContainerPath)
			fmt.Printf("  project:   %s\n", result.ProjectPath)
			for _, w := range result.Warnings {
				fmt.Printf("  warning: %s (sheet %s row %d)\n", w.Message, w.Sheet, w.Row)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "override the form title")
	cmd.Flags().StringVar(&opts.Language, "language", "", "preferred label language")
	cmd.Flags().StringVar(&opts.Basemap, "basemap", "", "basemap preset (OpenStreetMap, HOT)")
	cmd.Flags().BoolVar(&opts.GroupsAsTabs, "groups-as-tabs", false, "render top-level groups as form tabs")
	cmd.Flags().IntVar(&opts.SRID, "srid", opts.SRID, "EPSG code of emitted geometry layers")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
