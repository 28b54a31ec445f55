package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rendis/authflow/internal/diagram"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func runDiagram(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("diagram", &cfg)
	format := fs.String("format", "ascii", "output format: ascii, mermaid or png")
	outPath := fs.String("out", "", "write to this file instead of stdout (required for png)")
	step := fs.Int("step", -1, "highlight this step index")
	at := fs.Float64("at", -1, "highlight the position at this fraction of the flow (0..1)")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	def, ok := a.registry.Lookup(rest[0])
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", rest[0])
	}
	model, err := diagram.Build(def, overlaySnapshot(def, *step, *at))
	if err != nil {
		return err
	}

	var data []byte
	switch *format {
	case "ascii":
		data = []byte(diagram.RenderASCIIAuto(ctx, model, binDir()))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model) + "\n")
	case "png":
		if *outPath == "" {
			return fmt.Errorf("png output needs --out")
		}
		if data, err = diagram.RenderImage(ctx, model); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want ascii, mermaid or png)", *format)
	}

	if *outPath == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Written: %s (%d bytes)\n", *outPath, len(data))
	return nil
}

// overlaySnapshot positions a paused scheduler at step or at, or returns nil
// for a plain diagram.
func overlaySnapshot(def *schema.FlowDefinition, step int, at float64) *playback.Snapshot {
	if step < 0 && at < 0 {
		return nil
	}
	sched := playback.NewScheduler(def, playback.Options{})
	if at >= 0 {
		sched.Seek(at)
	} else {
		sched.SeekEvent(step)
	}
	snap := sched.Snapshot()
	return &snap
}
