package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/formsync/internal/analytics"
	"github.com/matthewbaird/formsync/internal/api"
	"github.com/matthewbaird/formsync/internal/live"
)

var watchCmd = &cobra.Command{
	Use:   "watch <formID>",
	Short: "Follow a form's analytics live",
	Long: `Prints the form's analytics every time they change. A new response pushed
over the websocket triggers an immediate refresh; the poll interval covers
the gaps and keeps going after the live channel gives up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd.OutOrStdout(), args[0])
	},
}

func runWatch(ctx context.Context, out io.Writer, formID string) error {
	client := api.New(cfg.APIBase)

	var ch *live.Channel
	ch = live.New(cfg.WSURL, live.Options{
		Logger: logger,
		OnState: func(s live.State) {
			logger.Debug("watch: live state", zap.Stringer("state", s))
			if s != live.StateOpen {
				return
			}
			msg, err := live.NewMessage(live.TypeSubscribeForm, live.FormRef{FormID: formID})
			if err == nil {
				err = ch.Send(ctx, msg)
			}
			if err != nil {
				logger.Warn("watch: subscribe failed", zap.Error(err))
			}
		},
	})

	sync := analytics.New(formID, client, analytics.Options{
		Interval: cfg.PollInterval,
		Logger:   logger,
		OnUpdate: func(s analytics.Snapshot) { printSnapshot(out, s) },
	})
	detach := sync.Attach(ch)
	defer detach()

	g, ctx := errgroup.WithContext(ctx)
	ch.Connect(ctx)
	g.Go(func() error { return sync.Run(ctx) })
	g.Go(func() error {
		select {
		case <-ch.Done():
			logger.Warn("watch: live updates stopped, polling only")
		case <-ctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return ch.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printSnapshot(out io.Writer, s analytics.Snapshot) {
	if s.Err != nil {
		fmt.Fprintf(out, "refresh failed: %v\n", s.Err)
		if s.Analytics == nil {
			return
		}
		fmt.Fprintln(out, "showing last known analytics")
	}
	a := s.Analytics
	fmt.Fprintf(out, "%s  responses=%d  last24h=%d\n",
		a.LastUpdated.Format("2006-01-02 15:04:05"), a.TotalResponses, a.RecentResponses)

	ids := make([]string, 0, len(a.FieldAnalytics))
	for id := range a.FieldAnalytics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return a.FieldAnalytics[ids[i]].FieldLabel < a.FieldAnalytics[ids[j]].FieldLabel
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, id := range ids {
		st := a.FieldAnalytics[id]
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", st.FieldLabel, st.FieldType, st.ResponseCount, fieldSummary(st))
	}
	tw.Flush()
}

func fieldSummary(st analytics.FieldStats) string {
	switch {
	case st.AverageRating != nil:
		return fmt.Sprintf("avg %.2f", *st.AverageRating)
	case st.NumberSummary != nil:
		n := st.NumberSummary
		return fmt.Sprintf("avg %.2f (min %g, max %g)", n.Average, n.Min, n.Max)
	case len(st.OptionCounts) > 0:
		best, count := "", -1
		for opt, c := range st.OptionCounts {
			if c > count || (c == count && opt < best) {
				best, count = opt, c
			}
		}
		return fmt.Sprintf("top %q (%d)", best, count)
	case len(st.TextResponses) > 0:
		return fmt.Sprintf("latest %q", st.TextResponses[len(st.TextResponses)-1])
	}
	return ""
}
