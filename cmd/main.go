package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dealerwatch",
	Short: "DealerWatch - 车商库存生命周期跟踪与异常检测",
	Long:  "跟踪车商库存的上架、调价、下架与重新上架，识别车牌，并对价格与上架行为做异常检测。",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（默认 ./config/config.yaml）")
	rootCmd.AddCommand(serveCmd, syncCmd, analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
