package mcp

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/pkg/schema"
)

type stateResult struct {
	SessionID string                 `json:"session_id"`
	Snapshot  playback.Snapshot      `json:"snapshot"`
	Step      *schema.StepDefinition `json:"step"`
}

func (f *fixture) open(t *testing.T, args map[string]any) string {
	t.Helper()
	res, err := f.srv.handleOpen(context.Background(), buildRequest("authflow.open", args))
	require.NoError(t, err)
	var out struct {
		SessionID string `json:"session_id"`
	}
	unmarshalResult(t, res, &out)
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func TestFlowsTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.srv.handleFlows(ctx, buildRequest("authflow.flows", nil))
	require.NoError(t, err)
	var list struct {
		Flows   []flows.Summary `json:"flows"`
		Default string          `json:"default"`
	}
	unmarshalResult(t, res, &list)
	assert.Len(t, list.Flows, len(flows.BuiltinIDs))
	assert.Equal(t, flows.DefaultFlowID, list.Default)

	res, err = f.srv.handleFlows(ctx, buildRequest("authflow.flows", map[string]any{"flow_id": "jwt-refresh"}))
	require.NoError(t, err)
	var one struct {
		Summary    flows.Summary         `json:"summary"`
		Definition schema.FlowDefinition `json:"definition"`
	}
	unmarshalResult(t, res, &one)
	assert.Equal(t, "jwt-refresh", one.Definition.ID)
	assert.Equal(t, len(one.Definition.Steps), one.Summary.Steps)

	res, err = f.srv.handleFlows(ctx, buildRequest("authflow.flows", map[string]any{"flow_id": "saml"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestOpenTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.srv.handleOpen(ctx, buildRequest("authflow.open", map[string]any{}))
	require.NoError(t, err)
	var out struct {
		SessionID string            `json:"session_id"`
		Virtual   bool              `json:"virtual"`
		Snapshot  playback.Snapshot `json:"snapshot"`
		Step      schema.StepDefinition
	}
	unmarshalResult(t, res, &out)
	assert.True(t, out.Virtual)
	assert.Equal(t, flows.DefaultFlowID, out.Snapshot.FlowID)
	assert.True(t, out.Snapshot.AutoAdvance)
	assert.False(t, out.Snapshot.IsPlaying)

	res, err = f.srv.handleOpen(ctx, buildRequest("authflow.open", map[string]any{"flow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), schema.ErrCodeNotFound)

	res, err = f.srv.handleOpen(ctx, buildRequest("authflow.open", map[string]any{"speed": 3.0}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), schema.ErrCodeInvalidCommand)
}

func TestControlAndAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, map[string]any{"flow_id": "password-login", "autoplay": true})

	// First step is 1200ms + 400ms pause.
	res, err := f.srv.handleAdvance(ctx, buildRequest("authflow.advance", map[string]any{
		"session_id": id, "ms": 1700.0, "frame_ms": 100.0,
	}))
	require.NoError(t, err)
	var st stateResult
	unmarshalResult(t, res, &st)
	assert.Equal(t, 1, st.Snapshot.ActiveEventIndex)
	require.NotNil(t, st.Step)
	assert.Equal(t, "lookup-user", st.Step.ID)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "seek_step", "value": 5.0,
	}))
	require.NoError(t, err)
	unmarshalResult(t, res, &st)
	assert.Equal(t, "set-cookie", st.Snapshot.ActiveStepID)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "speed", "value": 1.5,
	}))
	require.NoError(t, err)
	unmarshalResult(t, res, &st)
	assert.Equal(t, 1.5, st.Snapshot.Speed)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "auto_advance", "value": 0.0,
	}))
	require.NoError(t, err)
	unmarshalResult(t, res, &st)
	assert.False(t, st.Snapshot.AutoAdvance)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "speed", "value": 2.0,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": "missing", "command": "play",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.srv.handleAdvance(ctx, buildRequest("authflow.advance", map[string]any{"session_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.srv.handleAdvance(ctx, buildRequest("authflow.advance", map[string]any{
		"session_id": id, "ms": 1e12, "frame_ms": 16.0,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "too many frames")
}

func TestControlBind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, map[string]any{"flow_id": "password-login"})

	res, err := f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "bind", "flow_id": "oauth2-pkce",
	}))
	require.NoError(t, err)
	var st stateResult
	unmarshalResult(t, res, &st)
	assert.Equal(t, "oauth2-pkce", st.Snapshot.FlowID)
	assert.Equal(t, 0, st.Snapshot.ActiveEventIndex)

	res, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{
		"session_id": id, "command": "bind",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStateTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, map[string]any{"flow_id": "session-logout"})

	res, err := f.srv.handleState(ctx, buildRequest("authflow.state", map[string]any{"session_id": id}))
	require.NoError(t, err)
	var st stateResult
	unmarshalResult(t, res, &st)
	assert.Equal(t, id, st.SessionID)
	assert.Equal(t, "session-logout", st.Snapshot.FlowID)

	res, err = f.srv.handleState(ctx, buildRequest("authflow.state", nil))
	require.NoError(t, err)
	var all struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	unmarshalResult(t, res, &all)
	require.Len(t, all.Sessions, 1)
	assert.Equal(t, id, all.Sessions[0].ID)
}

func TestDiagramTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.srv.handleDiagram(ctx, buildRequest("authflow.diagram", map[string]any{
		"flow_id": "jwt-refresh", "format": "mermaid",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(extractText(t, res), "sequenceDiagram"))

	id := f.open(t, map[string]any{"flow_id": "password-login"})
	res, err = f.srv.handleDiagram(ctx, buildRequest("authflow.diagram", map[string]any{
		"session_id": id, "format": "ascii",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, res), "[RUN]")

	res, err = f.srv.handleDiagram(ctx, buildRequest("authflow.diagram", map[string]any{
		"session_id": id, "format": "image",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	png, err := base64.StdEncoding.DecodeString(extractText(t, res))
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), png[0])

	for _, args := range []map[string]any{
		{"format": "ascii"},
		{"flow_id": "jwt-refresh", "format": "svg"},
		{"flow_id": "nope", "format": "ascii"},
		{"flow_id": "jwt-refresh"},
	} {
		res, err = f.srv.handleDiagram(ctx, buildRequest("authflow.diagram", args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "%v", args)
	}
}

func TestTraceTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, map[string]any{"flow_id": "password-login", "autoplay": true, "record": true})

	_, err := f.srv.handleAdvance(ctx, buildRequest("authflow.advance", map[string]any{"session_id": id, "ms": 4000.0}))
	require.NoError(t, err)
	_, err = f.srv.handleControl(ctx, buildRequest("authflow.control", map[string]any{"session_id": id, "command": "pause"}))
	require.NoError(t, err)

	res, err := f.srv.handleClose(ctx, buildRequest("authflow.close", map[string]any{"session_id": id}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = f.srv.handleTrace(ctx, buildRequest("authflow.trace", map[string]any{"session_id": id}))
	require.NoError(t, err)
	var raw struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, res, &raw)
	require.NotEmpty(t, raw.Events)
	assert.Equal(t, schema.EventStepChange, raw.Events[0].Type)
	assert.Equal(t, "lookup-user", raw.Events[0].StepID)
	assert.Equal(t, schema.EventPause, raw.Events[len(raw.Events)-1].Type)

	res, err = f.srv.handleTrace(ctx, buildRequest("authflow.trace", map[string]any{
		"session_id": id, "filter": `select(.event_type == "STEP_CHANGE") | .step_id`,
	}))
	require.NoError(t, err)
	var filtered struct {
		Events []string `json:"events"`
	}
	unmarshalResult(t, res, &filtered)
	assert.NotEmpty(t, filtered.Events)
	assert.NotContains(t, filtered.Events, "submit-credentials")

	res, err = f.srv.handleTrace(ctx, buildRequest("authflow.trace", map[string]any{"session_id": id, "summary": true}))
	require.NoError(t, err)
	var sum store.TraceSummary
	unmarshalResult(t, res, &sum)
	assert.Equal(t, len(raw.Events), sum.Events)
	assert.False(t, sum.Final.Playing)

	res, err = f.srv.handleTrace(ctx, buildRequest("authflow.trace", map[string]any{"session_id": id, "filter": ".a |"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTraceTool_NoStore(t *testing.T) {
	s := NewAuthflowServer(AuthflowServerDeps{})
	res, err := s.handleTrace(context.Background(), buildRequest("authflow.trace", map[string]any{"session_id": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCloseTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, nil)
	f.srv.watchers.Register(id, "client-1")

	res, err := f.srv.handleClose(ctx, buildRequest("authflow.close", map[string]any{"session_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 0, f.srv.watchers.Len())

	res, err = f.srv.handleClose(ctx, buildRequest("authflow.close", map[string]any{"session_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCommandFromArgs(t *testing.T) {
	assert.Equal(t, 0.25, commandFromArgs("seek", 0.25).Progress)
	assert.Equal(t, 3, commandFromArgs("seek_step", 3.9).Index)
	assert.True(t, commandFromArgs("auto_advance", 1).Enabled)
	assert.False(t, commandFromArgs("auto_advance", 0).Enabled)
	assert.Equal(t, 1.5, commandFromArgs("speed", 1.5).Speed)
	assert.Equal(t, 16.0, commandFromArgs("tick", 16).DeltaMs)
	assert.Equal(t, playback.CommandName("play"), commandFromArgs("play", 9).Name)
}

type fakeNotifier struct {
	ch chan map[string]any
}

func (n *fakeNotifier) Notify(_ context.Context, playbackID string, payload map[string]any) error {
	n.ch <- payload
	return nil
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	fake := &fakeNotifier{ch: make(chan map[string]any, 16)}
	f.srv.notifier = fake

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.srv.StartNotifications(ctx))

	watched := f.open(t, map[string]any{"flow_id": "password-login"})
	other := f.open(t, map[string]any{"flow_id": "password-login"})
	f.srv.watchers.Register(watched, "client-1")

	_, err := f.mgr.Command(ctx, other, playback.Command{Name: playback.CmdNext})
	require.NoError(t, err)
	_, err = f.mgr.Command(ctx, watched, playback.Command{Name: playback.CmdNext})
	require.NoError(t, err)

	select {
	case p := <-fake.ch:
		assert.Equal(t, watched, p["session_id"])
		assert.Equal(t, schema.EventStepChange, p["event_type"])
		assert.Equal(t, "lookup-user", p["step_id"])
		assert.Equal(t, 1, p["step_index"])
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, f.mgr.Close(ctx, watched))
	assert.Eventually(t, func() bool { return f.srv.watchers.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStartNotifications_NoHub(t *testing.T) {
	s := NewAuthflowServer(AuthflowServerDeps{})
	assert.Error(t, s.StartNotifications(context.Background()))
}
