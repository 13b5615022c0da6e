package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List past upload attempts and their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.journal == nil {
				return fmt.Errorf("history requires FILEGATE_HISTORY_PATH to be set")
			}

			records, err := a.journal.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no upload attempts recorded")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"When", "File", "Size", "Outcome", "File ID"})
			for _, rec := range records {
				table.Append([]string{
					rec.FinishedAt.Format("2006-01-02 15:04:05"),
					rec.Filename,
					strconv.FormatInt(rec.Size, 10),
					rec.Outcome,
					rec.FileID,
				})
			}
			table.Render()
			return nil
		},
	}
}
