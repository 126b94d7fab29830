package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var analyzeDealerID string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "对车商的历史事件做异常检测并保存结果",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		records, err := a.anomalyService.DetectDealer(cmd.Context(), analyzeDealerID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDealerID, "dealer", "", "车商ID")
	_ = analyzeCmd.MarkFlagRequired("dealer")
}
