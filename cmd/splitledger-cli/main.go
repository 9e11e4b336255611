package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"splitledger/internal/cli"
	"splitledger/internal/export"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "splitledger-cli",
		Short: "Operate the splitledger purchase editor service",
	}
	root.AddCommand(serveCmd(), exportCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the editor HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			logger := cli.SetupLogger()
			cfg := cli.LoadAndValidateConfig(logger)
			ctx := cli.SignalContext(logger)
			return cli.RunServer(ctx, cfg, logger)
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <purchase-id>",
		Short: "Export a purchase to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			logger := cli.SetupLogger()
			cfg := cli.LoadAndValidateConfig(logger)

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid purchase id %q", args[0])
			}

			b := cli.BuildBackend(cfg)
			rec, err := b.GetPurchase(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("fetch purchase: %w", err)
			}
			users, err := b.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch users: %w", err)
			}

			workbook, err := export.Purchase(rec, users)
			if err != nil {
				return fmt.Errorf("render workbook: %w", err)
			}

			if out == "" {
				out = fmt.Sprintf("purchase-%d.xlsx", id)
			}
			if err := os.WriteFile(out, workbook, 0644); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file path")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
