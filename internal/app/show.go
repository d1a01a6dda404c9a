package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent evaluation cycles.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cycles, err := store.ListRecentCycles(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(os.Stdout, "no cycles found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTrigger\tPrice\tMatched\tCommitted\tReason\tChampion\tDevices\tDispatch")

	for _, cycle := range cycles {
		champion := "-"
		if cycle.ChampionDeviceID != nil {
			champion = sanitizeInline(*cycle.ChampionDeviceID)
		}
		committed := fmt.Sprintf("%d", cycle.CommittedBandID)
		if !cycle.Committed {
			committed = fmt.Sprintf("%d (held)", cycle.CommittedBandID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			cycle.EvaluatedAt.UTC().Format(time.RFC3339),
			cycle.Trigger,
			formatDecimal(cycle.Price, 4),
			cycle.MatchedBandID,
			committed,
			cycle.Reason,
			champion,
			cycle.PlannedDevices,
			cycle.DispatchStatus,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
