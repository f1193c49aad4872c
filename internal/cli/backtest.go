package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"optionslab/internal/engine"
	"optionslab/internal/logging"
	"optionslab/internal/models"
	"optionslab/internal/store"
	"optionslab/internal/strategy"
)

// addBacktestCommands adds the strategy backtest commands.
func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a strategy backtest",
		Long:  "Run a strategy against the historical options chain, one quote date at a time.",
	}

	backtestCmd.AddCommand(newStraddleCmd(app))
	backtestCmd.AddCommand(newCalendarCmd(app))
	backtestCmd.AddCommand(newDeltaShortCmd(app))

	rootCmd.AddCommand(backtestCmd)
}

// addStandardBacktestFlags registers the trade-management flags shared
// by every strategy command.
func addStandardBacktestFlags(cmd *cobra.Command, app *App) {
	cmd.Flags().String("db-path", app.Config.Backtest.DBPath, "path to the options chain sqlite database")
	cmd.Flags().Int("max-open-trades", app.Config.Backtest.MaxOpenTrades, "maximum number of open trades at a given time")
	cmd.Flags().Int("trade-delay", 0, "minimum days to wait between new trades")
	cmd.Flags().Int("force-close-after-days", 0, "force close a trade after this many days")
	cmd.Flags().Float64("profit-take", 0, "close when profit reaches this percent of premium received")
	cmd.Flags().Float64("stop-loss", 0, "close when loss reaches this percent of premium received")
	cmd.Flags().String("start-date", "", "first quote date to process (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "last quote date to process (YYYY-MM-DD)")
	cmd.Flags().String("table-tag", "", "tag for this run's trade tables (default: timestamp)")
}

// engineOptions builds engine options from the standard flags. The
// optional thresholds stay nil unless the flag was passed; settings not
// passed fall back to the loaded config, which --config may have
// swapped after flag registration.
func engineOptions(app *App, cmd *cobra.Command) (engine.Options, error) {
	flags := cmd.Flags()

	opts := engine.Options{RawParams: collectRawParams(cmd)}
	opts.MaxOpenTrades = app.Config.Backtest.MaxOpenTrades
	if flags.Changed("max-open-trades") {
		opts.MaxOpenTrades, _ = flags.GetInt("max-open-trades")
	}

	if flags.Changed("trade-delay") {
		v, _ := flags.GetInt("trade-delay")
		opts.TradeDelay = &v
	}
	if flags.Changed("force-close-after-days") {
		v, _ := flags.GetInt("force-close-after-days")
		opts.ForceCloseAfterDays = &v
	}
	if flags.Changed("profit-take") {
		v, _ := flags.GetFloat64("profit-take")
		opts.ProfitTake = &v
	}
	if flags.Changed("stop-loss") {
		v, _ := flags.GetFloat64("stop-loss")
		opts.StopLoss = &v
	}

	var err error
	if opts.StartDate, err = parseDateFlag(cmd, "start-date"); err != nil {
		return opts, err
	}
	if opts.EndDate, err = parseDateFlag(cmd, "end-date"); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return t, nil
}

// collectRawParams flattens every flag into "name=value,..." for the
// run ledger, sorted for stable output.
func collectRawParams(cmd *cobra.Command) string {
	var params []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		params = append(params, f.Name+"="+f.Value.String())
	})
	sort.Strings(params)
	return strings.Join(params, ",")
}

// runBacktest opens the run-scoped store, builds the strategy, and
// drives the engine over the quote dates.
func runBacktest(app *App, cmd *cobra.Command, strategyName string,
	build func(quotes store.QuoteStore) (strategy.Strategy, error)) error {

	output := NewOutput(cmd)

	dbPath := app.Config.Backtest.DBPath
	if cmd.Flags().Changed("db-path") {
		dbPath, _ = cmd.Flags().GetString("db-path")
	}
	if dbPath == "" {
		return fmt.Errorf("db-path is required (flag or config)")
	}
	tableTag, _ := cmd.Flags().GetString("table-tag")

	st, err := store.NewSQLiteStore(dbPath, strategyName, tableTag)
	if err != nil {
		return err
	}
	defer st.Close()

	strat, err := build(st)
	if err != nil {
		return err
	}

	opts, err := engineOptions(app, cmd)
	if err != nil {
		return err
	}

	log := logging.WithStrategy(app.Logger, strategyName)
	eng := engine.New(st, st, strat, opts, log)
	if err := eng.Run(cmd.Context()); err != nil {
		return err
	}

	if output.IsJSON() {
		return output.JSON(map[string]string{
			"strategy":         strategyName,
			"trades_table":     st.TradesTable(),
			"trade_legs_table": st.TradeLegsTable(),
		})
	}
	output.Success("Backtest complete")
	output.Printf("  Trades table: %s\n", st.TradesTable())
	output.Printf("  Legs table:   %s\n", st.TradeLegsTable())
	return nil
}

func newStraddleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "straddle",
		Short: "Short straddle (plain, vol-gated, RSI-gated, or laddered)",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			dte, _ := flags.GetInt("dte")
			highVol, _ := flags.GetBool("high-vol-check")
			volWindow, _ := flags.GetInt("high-vol-check-window")
			rsiFilter, _ := flags.GetBool("rsi-filter")
			rsiPeriod, _ := flags.GetInt("rsi")
			rsiLow, _ := flags.GetFloat64("rsi-low-threshold")
			rsiHigh, _ := flags.GetFloat64("rsi-high-threshold")
			ladder, _ := flags.GetBool("ladder")
			contracts, _ := flags.GetInt("contracts")
			dataDir, _ := flags.GetString("market-data-dir")
			if dataDir == "" {
				dataDir = app.Config.Market.DataDir
			}

			cfg := strategy.StraddleConfig{
				DTE:           dte,
				HighVolWindow: volWindow,
				Contracts:     contracts,
				MarketDataDir: dataDir,
			}

			name := strategy.NameStraddle
			switch {
			case highVol:
				name = strategy.NameVolGated
			case rsiFilter:
				name = strategy.NameRSIStraddle
			case ladder:
				name = strategy.NameLadderStraddle
			}

			return runBacktest(app, cmd, name, func(quotes store.QuoteStore) (strategy.Strategy, error) {
				switch {
				case highVol:
					return strategy.NewVolGatedStraddle(quotes, cfg, app.Logger), nil
				case rsiFilter:
					return strategy.NewRSIStraddle(quotes, strategy.RSIStraddleConfig{
						StraddleConfig: cfg,
						RSIPeriod:      rsiPeriod,
						RSILow:         rsiLow,
						RSIHigh:        rsiHigh,
						Underlying:     app.Config.Market.Underlying,
					}, app.Logger), nil
				case ladder:
					return strategy.NewLadderStraddle(quotes, cfg, app.Logger), nil
				default:
					return strategy.NewStraddle(quotes, cfg, app.Logger), nil
				}
			})
		},
	}

	addStandardBacktestFlags(cmd, app)
	cmd.Flags().Int("dte", 30, "minimum days to expiry for new trades")
	cmd.Flags().Bool("high-vol-check", false, "only enter during a high-volatility regime")
	cmd.Flags().Int("high-vol-check-window", 5, "rolling median window for the vol regime signal")
	cmd.Flags().Bool("rsi-filter", false, "only enter when RSI sits outside the band")
	cmd.Flags().Int("rsi", 14, "RSI period")
	cmd.Flags().Float64("rsi-low-threshold", 20, "RSI lower threshold")
	cmd.Flags().Float64("rsi-high-threshold", 80, "RSI higher threshold")
	cmd.Flags().Bool("ladder", false, "stagger entries into an existing trade")
	cmd.Flags().Int("contracts", 1, "straddle count cap for laddered entries")
	cmd.Flags().String("market-data-dir", "", "directory with indicator bar CSVs")
	cmd.MarkFlagsMutuallyExclusive("high-vol-check", "rsi-filter", "ladder")

	return cmd
}

func newCalendarCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Calendar spread: short front expiry, long back expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			frontDTE, _ := cmd.Flags().GetInt("front-dte")
			backDTE, _ := cmd.Flags().GetInt("back-dte")
			side, _ := cmd.Flags().GetString("contract-type")

			ct := models.ContractPut
			name := strategy.NamePutCalendar
			switch strings.ToLower(side) {
			case "put":
			case "call":
				ct = models.ContractCall
				name = strategy.NameCallCalendar
			default:
				return fmt.Errorf("invalid contract-type %q: must be put or call", side)
			}

			cfg := strategy.CalendarConfig{
				FrontDTE:     frontDTE,
				BackDTE:      backDTE,
				ContractType: ct,
			}

			return runBacktest(app, cmd, name, func(quotes store.QuoteStore) (strategy.Strategy, error) {
				return strategy.NewCalendar(quotes, cfg, app.Logger), nil
			})
		},
	}

	addStandardBacktestFlags(cmd, app)
	cmd.Flags().Int("front-dte", 30, "minimum days to expiry for the short front leg")
	cmd.Flags().Int("back-dte", 60, "minimum days to expiry for the long back leg")
	cmd.Flags().String("contract-type", "put", "calendar side: put or call")

	return cmd
}

func newDeltaShortCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta-short",
		Short: "Single short put or call picked by delta, direction by RSI",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			dte, _ := flags.GetInt("dte")
			putDelta, _ := flags.GetFloat64("short-put-delta")
			callDelta, _ := flags.GetFloat64("short-call-delta")
			rsiPeriod, _ := flags.GetInt("rsi")
			rsiLow, _ := flags.GetFloat64("rsi-low-threshold")
			rsiHigh, _ := flags.GetFloat64("rsi-high-threshold")
			dataDir, _ := flags.GetString("market-data-dir")
			if dataDir == "" {
				dataDir = app.Config.Market.DataDir
			}

			cfg := strategy.DeltaShortConfig{
				DTE:            dte,
				ShortPutDelta:  putDelta,
				ShortCallDelta: callDelta,
				RSIPeriod:      rsiPeriod,
				RSILow:         rsiLow,
				RSIHigh:        rsiHigh,
				Underlying:     app.Config.Market.Underlying,
				MarketDataDir:  dataDir,
			}

			return runBacktest(app, cmd, strategy.NameDeltaShort, func(quotes store.QuoteStore) (strategy.Strategy, error) {
				return strategy.NewDeltaShort(quotes, cfg, app.Logger), nil
			})
		},
	}

	addStandardBacktestFlags(cmd, app)
	cmd.Flags().Int("dte", 30, "minimum days to expiry for new trades")
	cmd.Flags().Float64("short-put-delta", 0.5, "target delta for the short put")
	cmd.Flags().Float64("short-call-delta", 0.5, "target delta for the short call")
	cmd.Flags().Int("rsi", 14, "RSI period")
	cmd.Flags().Float64("rsi-low-threshold", 20, "RSI lower threshold")
	cmd.Flags().Float64("rsi-high-threshold", 80, "RSI higher threshold")
	cmd.Flags().String("market-data-dir", "", "directory with indicator bar CSVs")

	return cmd
}
