// Command garagectl is the operator tool for the rescue API: it runs migrations and answers
// dispatch, pricing and slot questions from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"garage/rescue/internal/config"
	"garage/rescue/internal/database"
	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"

	"github.com/rs/zerolog"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "garagectl",
		Short:         "Operator tool for the garage rescue API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newWindowsCmd(), newDistanceCmd(), newQuoteCmd(), newNearestCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrate.Up
			if len(args) == 1 && args[0] == "down" {
				dir = migrate.Down
				if steps == 0 {
					steps = 1
				}
			}
			n, err := database.Migrate(cmd.Context(), cfg, cliLogger(cmd.ErrOrStderr()), dir, steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "Maximum number of migrations (0 = all; down defaults to 1)")
	return cmd
}

func newWindowsCmd() *cobra.Command {
	var date, open, closeAt string
	var minutes int
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Print the booking windows of a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}
			o, err := schedule.ParseTimeOfDay(open)
			if err != nil {
				return err
			}
			c, err := schedule.ParseTimeOfDay(closeAt)
			if err != nil {
				return err
			}
			windows, err := schedule.BuildWindows(day, o, c, minutes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range windows {
				fmt.Fprintf(out, "%s  %s\n", w.Start.Format("2006-01-02 15:04"), w.End.Format("15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day as YYYY-MM-DD (+07:00)")
	cmd.Flags().StringVar(&open, "open", "08:00", "Opening time HH:MM")
	cmd.Flags().StringVar(&closeAt, "close", "17:00", "Closing time HH:MM; at or before open means overnight")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 30, "Window length in minutes")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newDistanceCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Great-circle distance between two points in km",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parsePoint(from)
			if err != nil {
				return err
			}
			b, err := parsePoint(to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f\n", dispatch.Distance(a, b))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "lat,lon")
	cmd.Flags().StringVar(&to, "to", "", "lat,lon")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	var distance float64
	var base, perKm string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price an emergency trip with explicit rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := decimal.NewFromString(base)
			if err != nil {
				return fmt.Errorf("base: %w", err)
			}
			k, err := decimal.NewFromString(perKm)
			if err != nil {
				return fmt.Errorf("per-km: %w", err)
			}
			if err := dispatch.ValidatePricing(b, k); err != nil {
				return err
			}
			q, err := dispatch.Estimate(distance, &dispatch.Pricing{BasePrice: b, PricePerKm: k})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), q)
		},
	}
	cmd.Flags().Float64VarP(&distance, "distance", "d", 0, "Distance in km")
	cmd.Flags().StringVar(&base, "base", "", "Base price")
	cmd.Flags().StringVar(&perKm, "per-km", "", "Price per km")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("per-km")
	return cmd
}

func newNearestCmd() *cobra.Command {
	var at string
	var count int
	cmd := &cobra.Command{
		Use:   "nearest",
		Short: "Rank the active branches stored in the database by distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			customer, err := parsePoint(at)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Database.RunMigrations = false

			ctx := cmd.Context()
			pool, err := database.Connect(ctx, cfg, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer pool.Close()

			branches, err := store.New(pool).ListActiveBranches(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rankBranches(customer, branches, count))
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Customer position lat,lon")
	cmd.Flags().IntVarP(&count, "count", "n", dispatch.DefaultNearestCount, "Number of branches")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func rankBranches(customer dispatch.GeoPoint, branches []store.Branch, count int) []dispatch.NearbyBranchResult {
	locations := make([]dispatch.BranchLocation, 0, len(branches))
	for _, b := range branches {
		locations = append(locations, b.DispatchLocation())
	}
	return dispatch.FindNearest(customer, locations, count)
}

func parsePoint(s string) (dispatch.GeoPoint, error) {
	latRaw, lonRaw, ok := strings.Cut(s, ",")
	if !ok {
		return dispatch.GeoPoint{}, fmt.Errorf("%w: point %q must be lat,lon", dispatch.ErrInvalidArgument, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil {
		return dispatch.GeoPoint{}, fmt.Errorf("%w: latitude: %v", dispatch.ErrInvalidArgument, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if err != nil {
		return dispatch.GeoPoint{}, fmt.Errorf("%w: longitude: %v", dispatch.ErrInvalidArgument, err)
	}
	p := dispatch.GeoPoint{Latitude: lat, Longitude: lon}
	if err := p.Validate(); err != nil {
		return dispatch.GeoPoint{}, err
	}
	return p, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cliLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
}
