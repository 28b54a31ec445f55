package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a SequenceModel as a PNG image using graphviz.
// Participants become nodes laid out left to right and every message becomes a
// numbered edge, styled by its playback state.
func RenderImage(ctx context.Context, model *SequenceModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.LRRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Lanes))
	for _, lane := range model.Lanes {
		n, nErr := graph.CreateNodeByName(lane.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", lane.ID, nErr)
		}
		n.SetLabel(lane.Label)
		n.SetShape(cgraph.BoxShape)
		gvNodes[lane.ID] = n
	}

	for _, msg := range model.Messages {
		from, to := gvNodes[msg.From], gvNodes[msg.To]
		if from == nil || to == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(fmt.Sprintf("m%d", msg.Index), from, to)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s: %w", msg.StepID, eErr)
		}
		e.SetLabel(fmt.Sprintf("%d. %s", msg.Index+1, msg.Label))
		applyEdgeStyle(e, msg)
		if msg.State == StateActive {
			applyActiveNodes(from, to)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// applyEdgeStyle sets graphviz attributes based on payload and state.
func applyEdgeStyle(e *cgraph.Edge, msg Message) {
	if msg.Reply() {
		e.SetStyle(cgraph.DashedEdgeStyle)
	}
	switch msg.State {
	case StateDone:
		e.SetColor("#2d6a2d")
		e.SetFontColor("#2d6a2d")
	case StateActive:
		e.SetColor("#1a5276")
		e.SetFontColor("#1a5276")
		e.SetPenWidth(2.5)
	default:
		e.SetColor("#888888")
		e.SetFontColor("#888888")
	}
}

func applyActiveNodes(nodes ...*cgraph.Node) {
	for _, n := range nodes {
		n.SetStyle(cgraph.FilledNodeStyle)
		n.SetFillColor("#1a5276")
		n.SetFontColor("white")
	}
}
