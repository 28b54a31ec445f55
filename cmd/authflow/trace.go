package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rendis/authflow/internal/expressions"
	"github.com/rendis/authflow/internal/retention"
	"github.com/rendis/authflow/internal/store"
)

func runSessions(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("sessions", &cfg)
	storeFlags(fs, &cfg)
	flowID := fs.String("flow", "", "only sessions of this flow")
	status := fs.String("status", "", "only sessions with this status (active or closed)")
	limit := fs.Int("limit", 20, "maximum sessions to list")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	list, err := a.store.ListSessions(ctx, store.SessionFilter{FlowID: *flowID, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, list)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFLOW\tSTATUS\tSPEED\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%gx\t%s\n", s.ID, s.FlowID, s.Status, s.Options.Speed, s.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runTrace(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("trace", &cfg)
	storeFlags(fs, &cfg)
	since := fs.Int64("since", 0, "only events after this sequence number")
	filter := fs.String("filter", "", "jq expression applied to each event")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if _, err := a.store.GetSession(ctx, rest[0]); err != nil {
		return err
	}
	events, err := a.eventLog.GetEvents(ctx, rest[0], *since)
	if err != nil {
		return err
	}

	if *filter != "" {
		results, err := expressions.NewGoJQEngine().Filter(ctx, *filter, events)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tSTEP\tMETADATA")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d:%s\t%s\n",
			e.Sequence, e.Timestamp.Local().Format("15:04:05.000"), e.Type, e.StepIndex, e.StepID, string(e.Metadata))
	}
	return tw.Flush()
}

func runReplay(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("replay", &cfg)
	storeFlags(fs, &cfg)
	asJSON := fs.Bool("json", false, "print JSON")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sum, err := a.eventLog.ReplayEvents(ctx, rest[0])
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, sum)
	}
	return printSummary(out, sum)
}

func runPrune(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("prune", &cfg)
	storeFlags(fs, &cfg)
	fs.StringVar(&cfg.RetentionMaxAge, "max-age", cfg.RetentionMaxAge, "delete closed sessions older than this")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	policy, ok, err := cfg.retentionPolicy()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no retention max age configured (use --max-age)")
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	janitor, err := retention.NewJanitor(a.store, policy, a.logger)
	if err != nil {
		return err
	}
	res, err := janitor.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d of %d closed sessions (closed before %s)\n",
		res.Deleted, res.Checked, res.Cutoff.Local().Format(time.DateTime))
	return nil
}

func printSummary(out io.Writer, sum *store.TraceSummary) error {
	f := sum.Final
	state := "paused"
	if f.Playing {
		state = "playing"
	}
	fmt.Fprintf(out, "session %s: %d events\n", sum.SessionID, sum.Events)
	fmt.Fprintf(out, "final: flow %s, step %d (%s), %s at %gx, auto-advance %t\n",
		f.FlowID, f.StepIndex, f.StepID, state, f.Speed, f.AutoAdvance)

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tVISITS\tFIRST\tLAST")
	for _, v := range sum.Visits {
		fmt.Fprintf(tw, "%d:%s\t%d\t%s\t%s\n", v.StepIndex, v.StepID, v.Count,
			v.FirstAt.Local().Format("15:04:05.000"), v.LastAt.Local().Format("15:04:05.000"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	types := make([]string, 0, len(sum.EventCount))
	for t := range sum.EventCount {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintln(out)
	for _, t := range types {
		fmt.Fprintf(out, "%-20s %d\n", t, sum.EventCount[t])
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
