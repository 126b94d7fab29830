package main

import (
	"encoding/json"
	"os"

	"DealerWatch/internal/model"

	"github.com/spf13/cobra"
)

var syncDealerID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "立即执行一次同步（指定车商或全部启用车商），结果以 JSON 输出",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		var results []*model.PassResult
		if syncDealerID != "" {
			results = []*model.PassResult{a.syncService.SyncDealer(cmd.Context(), syncDealerID)}
		} else {
			results, err = a.syncService.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncDealerID, "dealer", "", "只同步该车商")
}
