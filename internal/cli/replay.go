package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"agile-solo-strategy/internal/app"
)

var (
	replayPrices []string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a price sequence through the decision loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(replayPrices) == 0 {
			return errors.New("--prices must list at least one price")
		}

		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			Prices: replayPrices,
		})
	},
}

func init() {
	replayCmd.Flags().StringSliceVar(&replayPrices, "prices", nil, "Comma-separated price sequence (USD/kWh)")
}
