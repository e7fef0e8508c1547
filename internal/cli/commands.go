package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
)

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return a.print(map[string]string{"status": "migrated"}, func(w io.Writer) {
				fmt.Fprintf(w, "Migrated %s store\n", a.cfg.Backend)
			})
		}),
	}
}

func (a *app) statsCommand() *cobra.Command {
	var verify, repair bool
	cmd := &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show a user's watch-time and token balances",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID := args[0]

			if repair {
				s, repaired, err := a.engine.RepairStats(ctx, userID)
				if err != nil {
					return err
				}
				if repaired {
					fmt.Fprintf(a.errOut, "Repaired stats for %s\n", userID)
				}
				return a.printView(s)
			}
			if verify {
				if err := a.engine.VerifyStats(ctx, userID); err != nil {
					return err
				}
			}

			s, err := a.engine.GetUserWatchStats(ctx, userID)
			if err != nil {
				return err
			}
			return a.printView(s)
		}),
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "fail if the record violates its derived invariants")
	cmd.Flags().BoolVar(&repair, "repair", false, "recompute derived fields before printing")
	return cmd
}

func (a *app) printView(s *stats.WatchStats) error {
	v := s.View()
	return a.print(v, func(w io.Writer) {
		fmt.Fprintf(w, "User: %s\n", v.UserID)
		fmt.Fprintf(w, "  Watch time: %ds (%.2fh)\n", v.TotalWatchSeconds, v.TotalWatchHours)
		fmt.Fprintf(w, "  Tokens: %d available, %d earned, %d spent\n", v.AvailableTokens, v.TotalTokens, v.SpentTokens)
		fmt.Fprintf(w, "  Next token in: %ds (%.1f%%)\n", v.NextTokenIn, v.ProgressToNextToken)
		if s.HasRetroactiveGrant() {
			fmt.Fprintf(w, "  Retroactive grant: %d tokens for %ds at %s\n",
				s.RetroactiveTokens, s.RetroactiveSeconds, s.RetroactiveGrantedAt.Format(time.RFC3339))
		}
	})
}

func (a *app) spendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spend <user-id> <amount>",
		Short: "Debit tokens from a user's available balance",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			s, err := a.engine.SpendTokens(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return a.printView(s)
		}),
	}
}

func (a *app) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Grant a user's retroactive tokens once",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			res, err := a.engine.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				if res.AlreadyGranted {
					fmt.Fprintf(w, "User %s already reconciled\n", res.UserID)
					return
				}
				fmt.Fprintf(w, "Reconciled %s (%s)\n", res.UserID, res.Branch)
				fmt.Fprintf(w, "  Seconds: %d\n", res.Seconds)
				fmt.Fprintf(w, "  Tokens granted: %d\n", res.TokensGranted)
				if res.Branch == watchledger.BranchHistory {
					fmt.Fprintf(w, "  Events: %d scanned, %d skipped\n", res.EventsScanned, res.EventsSkipped)
				}
			})
		}),
	}
}

func (a *app) reconcileAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-all",
		Short: "Reconcile every user with watch history",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			res, runErr := a.engine.ReconcileAll(cmd.Context())
			if res == nil {
				return runErr
			}
			if err := a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Run: %s\n", res.RunID)
				fmt.Fprintf(w, "  Users: %d\n", res.Users)
				fmt.Fprintf(w, "  Granted: %d (%d tokens)\n", res.Granted, res.TokensGranted)
				fmt.Fprintf(w, "  Already granted: %d\n", res.AlreadyGranted)
				fmt.Fprintf(w, "  Failed: %d\n", res.Failed)
				for _, e := range res.Errors.Errors {
					fmt.Fprintf(w, "    %v\n", e)
				}
			}); err != nil {
				return err
			}
			return runErr
		}),
	}
}

func (a *app) resetGrantCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-grant <user-id>",
		Short: "Clear a user's retroactive gate so it can be reconciled again",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			s, err := a.engine.ResetRetroactiveGrant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printView(s)
		}),
	}
}

func (a *app) poolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage video exposure token pools",
	}

	allocate := &cobra.Command{
		Use:   "allocate <video-id> <tokens>",
		Short: "Add exposure tokens to a video's pool",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			tokens, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("tokens must be an integer: %w", err)
			}
			p, err := a.engine.AllocateVideoTokens(cmd.Context(), args[0], tokens)
			if err != nil {
				return err
			}
			return a.print(p, func(w io.Writer) { printPool(w, p) })
		}),
	}

	var activeOnly bool
	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List video pools",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			pools, err := a.engine.ListVideoPools(cmd.Context(), pool.ListOpts{
				ActiveOnly: activeOnly,
				Limit:      limit,
				Offset:     offset,
			})
			if err != nil {
				return err
			}
			return a.print(pools, func(w io.Writer) {
				for _, p := range pools {
					printPool(w, p)
				}
			})
		}),
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only list pools with exposures left")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of pools")
	list.Flags().IntVar(&offset, "offset", 0, "number of pools to skip")

	cmd.AddCommand(allocate, list)
	return cmd
}

func printPool(w io.Writer, p *pool.VideoTokenPool) {
	state := "inactive"
	if p.IsActive {
		state = "active"
	}
	fmt.Fprintf(w, "%-24s  %-8s  %d/%d remaining  %d exposures\n",
		p.VideoID, state, p.RemainingTokens, p.AllocatedTokens, p.TotalExposures)
}

func (a *app) catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the video duration catalog",
	}

	var roomID, title string
	put := &cobra.Command{
		Use:   "put <video-id> <duration-seconds>",
		Short: "Add or replace a catalog entry",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || seconds <= 0 {
				return fmt.Errorf("duration must be a positive integer: %q", args[1])
			}
			v := &history.CatalogVideo{
				VideoID:         args[0],
				RoomID:          roomID,
				Title:           title,
				DurationSeconds: seconds,
			}
			if err := a.store.PutCatalogVideo(cmd.Context(), v); err != nil {
				return err
			}
			return a.print(v, func(w io.Writer) {
				scope := "global"
				if !v.Global() {
					scope = "room " + v.RoomID
				}
				fmt.Fprintf(w, "Cataloged %s (%s): %ds\n", v.VideoID, scope, v.DurationSeconds)
			})
		}),
	}
	put.Flags().StringVar(&roomID, "room", "", "room the entry belongs to; empty means global")
	put.Flags().StringVar(&title, "title", "", "video title")

	cmd.AddCommand(put)
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and import historical watch events",
	}

	var roomID, at string
	record := &cobra.Command{
		Use:   "record <user-id> <video-id>",
		Short: "Import one historical watch event",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ev := &history.WatchEvent{UserID: args[0], VideoID: args[1], RoomID: roomID}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				ev.WatchedAt = t
			}
			if err := a.engine.RecordWatchEvent(cmd.Context(), ev); err != nil {
				return err
			}
			return a.print(ev, func(w io.Writer) {
				fmt.Fprintf(w, "Recorded %s\n", ev.ID)
			})
		}),
	}
	record.Flags().StringVar(&roomID, "room", "", "room the video was watched in")
	record.Flags().StringVar(&at, "at", "", "watch time in RFC3339; defaults to now")

	list := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's watch events in order",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			events, err := a.store.ListWatchEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(events, func(w io.Writer) {
				for _, ev := range events {
					room := ev.RoomID
					if room == "" {
						room = "-"
					}
					fmt.Fprintf(w, "%s  %-20s  %-12s  %s\n", ev.WatchedAt.Format(time.RFC3339), ev.VideoID, room, ev.ID)
				}
			})
		}),
	}

	cmd.AddCommand(record, list)
	return cmd
}
