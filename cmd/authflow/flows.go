package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rendis/authflow/internal/flows"
)

func runList(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("list", &cfg)
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	list := a.registry.List()
	if *asJSON {
		return writeJSON(out, list)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPROTOCOL\tSTEPS\tDURATION")
	for _, s := range list {
		id := s.ID
		if s.Default {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", id, s.Title, s.Protocol, s.Steps, formatMs(s.TotalMs))
	}
	return tw.Flush()
}

func runValidate(_ context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("validate", &cfg)
	files, err := parseArgs(fs, args, -1)
	if err != nil {
		return err
	}

	reg, err := flows.NewRegistry("")
	if err != nil {
		return err
	}

	invalid := 0
	for _, p := range files {
		if !validateFile(reg, p, out) {
			invalid++
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d flow documents invalid", invalid, len(files))
	}
	return nil
}

func validateFile(reg *flows.Registry, p string, out io.Writer) bool {
	format, ok := flows.FormatForPath(p)
	if !ok {
		fmt.Fprintf(out, "FAIL %s\n  unsupported extension (want .yaml, .yml or .json)\n", p)
		return false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s\n  %v\n", p, err)
		return false
	}

	def, result := reg.ParseDocument(data, format)
	if !result.Valid() {
		fmt.Fprintf(out, "FAIL %s\n", p)
		for _, issue := range result.Errors {
			fmt.Fprintf(out, "  %s\n", issue)
		}
		return false
	}

	sum := flows.Summarize(def, false)
	fmt.Fprintf(out, "ok   %s (%s, %d steps, %s)\n", p, def.ID, sum.Steps, formatMs(sum.TotalMs))
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return true
}

// formatMs renders a millisecond duration as "850ms" or "8.0s".
func formatMs(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}
