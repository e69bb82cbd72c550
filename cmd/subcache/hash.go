package main

import (
	"fmt"
	"os"

	"github.com/snarg/subcache/internal/storage"
	"github.com/spf13/cobra"
)

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the content hash each file would be stored under",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				sum, err := storage.ComputeContentHash(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("hash %s: %w", path, err)
				}
				fmt.Fprintf(out, "%s  %s\n", sum, path)
			}
			return nil
		},
	}
}
