package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"agile-solo-strategy/internal/app"
)

var (
	simulatePrice string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟给定电价下的一次策略评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" {
			return errors.New("--price 必须提供")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Price: simulatePrice,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "电价 (USD/kWh)")
}
