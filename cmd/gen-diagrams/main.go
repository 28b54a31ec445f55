// gen-diagrams renders every built-in flow as ASCII, Mermaid and PNG for the
// README. The overlay shows each flow paused halfway through.
// Run: go run ./cmd/gen-diagrams [-out docs/assets]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/authflow/internal/diagram"
	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func main() {
	outDir := flag.String("out", filepath.Join("docs", "assets"), "output directory")
	at := flag.Float64("at", 0.5, "overlay position as a fraction of each flow")
	flag.Parse()

	if err := generate(context.Background(), *outDir, *at); err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
}

func generate(ctx context.Context, outDir string, at float64) error {
	reg, err := flows.NewBuiltinRegistry()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	home, _ := os.UserHomeDir()
	binDir := filepath.Join(home, ".authflow", "bin")

	for _, id := range flows.BuiltinIDs {
		def, _ := reg.Lookup(id)
		model, err := diagram.Build(def, midway(def, at))
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}

		ascii := diagram.RenderASCIIAuto(ctx, model, binDir)
		if err := os.WriteFile(filepath.Join(outDir, id+".txt"), []byte(ascii), 0o644); err != nil {
			return err
		}
		fmt.Printf("=== %s (ASCII) ===\n%s\n", id, ascii)

		mermaid := diagram.RenderMermaid(model)
		if err := os.WriteFile(filepath.Join(outDir, id+".md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644); err != nil {
			return err
		}

		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: image error: %v\n", id, err)
			continue
		}
		pngPath := filepath.Join(outDir, id+".png")
		if err := os.WriteFile(pngPath, png, 0o644); err != nil {
			return err
		}
		fmt.Printf("Written: %s (%d bytes)\n", pngPath, len(png))
	}
	return nil
}

func midway(def *schema.FlowDefinition, at float64) *playback.Snapshot {
	sched := playback.NewScheduler(def, playback.Options{})
	sched.Seek(at)
	snap := sched.Snapshot()
	return &snap
}
