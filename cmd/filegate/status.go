package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <fileID>",
		Short: "Check the scan status of an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.gw.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
}
