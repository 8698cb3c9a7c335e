package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

func dispatch(t *testing.T, g *Gateway, c *controlplane.Client, method string, params any) (any, *v1.ErrorShape) {
	t.Helper()
	return g.Router().Dispatch(context.Background(), c, request(t, method, params))
}

func TestBuiltins_Registered(t *testing.T) {
	g := newTestGateway(t, newFakeClock(), nil)
	assert.Equal(t, []string{
		v1.MethodNodeCapabilitiesUpdate,
		v1.MethodNodeDescribe,
		v1.MethodNodeEvent,
		v1.MethodNodeForeground,
		v1.MethodNodeList,
		v1.MethodPing,
		v1.MethodStatus,
	}, g.Router().Methods())
}

func TestPing_RecordsHeartbeat(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	c, _ := addNode(t, g, clock, "phone")

	clock.Advance(5 * time.Second)
	payload, shape := dispatch(t, g, c, v1.MethodPing, nil)
	require.Nil(t, shape)
	assert.Equal(t, v1.PingResult{TS: clock.Now().UnixMilli()}, payload)
	assert.Equal(t, clock.Now(), c.LastHeartbeatAt())
}

func TestStatus_RequiresRead(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	reader, _ := addOperator(t, g, clock, "read")
	writer, _ := addOperator(t, g, clock, "write")
	addNode(t, g, clock, "phone")
	addClient(t, g, clock)

	_, shape := dispatch(t, g, writer, v1.MethodStatus, nil)
	require.NotNil(t, shape)
	assert.Equal(t, v1.CodeForbidden, shape.Code)

	payload, shape := dispatch(t, g, reader, v1.MethodStatus, nil)
	require.Nil(t, shape)
	st, ok := payload.(StatusPayload)
	require.True(t, ok)
	assert.Equal(t, "dev", st.Server.Version)
	assert.Equal(t, 4, st.Clients.Total)
	assert.Equal(t, 3, st.Clients.Authenticated)
	assert.Equal(t, 1, st.Clients.Pending)
	assert.Equal(t, 1, st.Clients.Nodes)
	assert.Len(t, st.Methods, 7)
}

func TestNodeDescribe(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, _ := addOperator(t, g, clock, "read")
	node, _ := addNode(t, g, clock, "studio")

	payload, shape := dispatch(t, g, op, v1.MethodNodeDescribe, v1.NodeDescribeParams{Node: "studio"})
	require.Nil(t, shape)
	info, ok := payload.(controlplane.NodeInfo)
	require.True(t, ok)
	assert.Equal(t, node.ID(), info.ID)

	payload, shape = dispatch(t, g, op, v1.MethodNodeDescribe, v1.NodeDescribeParams{Node: node.ID()})
	require.Nil(t, shape)
	assert.Equal(t, node.ID(), payload.(controlplane.NodeInfo).ID)

	_, shape = dispatch(t, g, op, v1.MethodNodeDescribe, v1.NodeDescribeParams{Node: "ghost"})
	require.NotNil(t, shape)
	assert.Equal(t, v1.CodeNotFound, shape.Code)

	_, shape = dispatch(t, g, op, v1.MethodNodeDescribe, nil)
	require.NotNil(t, shape)
	assert.Equal(t, v1.CodeInvalidRequest, shape.Code)
}

func TestNodeList(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, _ := addOperator(t, g, clock, "admin")
	addNode(t, g, clock, "a")
	addNode(t, g, clock, "b")

	payload, shape := dispatch(t, g, op, v1.MethodNodeList, nil)
	require.Nil(t, shape)
	assert.Len(t, payload.(NodeListPayload).Nodes, 2)
}

func TestNodeEvent_TargetedAndBroadcast(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, _ := addOperator(t, g, clock, "write")
	_, aTr := addNode(t, g, clock, "a")
	_, bTr := addNode(t, g, clock, "b")

	payload, shape := dispatch(t, g, op, v1.MethodNodeEvent, v1.NodeEventParams{Node: "a", Event: "camera.snap"})
	require.Nil(t, shape)
	assert.Equal(t, v1.NodeEventResult{Delivered: 1}, payload)
	require.Len(t, aTr.events(t, v1.EventNodeEvent), 1)
	assert.Empty(t, bTr.events(t, v1.EventNodeEvent))

	got := aTr.events(t, v1.EventNodeEvent)[0]["payload"].(map[string]any)
	assert.Equal(t, "camera.snap", got["event"])
	assert.Equal(t, op.ID(), got["from"])

	payload, shape = dispatch(t, g, op, v1.MethodNodeEvent, v1.NodeEventParams{Event: "sync"})
	require.Nil(t, shape)
	assert.Equal(t, v1.NodeEventResult{Delivered: 2}, payload)
}

func TestNodeEvent_IdempotencyKeyDeliversOnce(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, _ := addOperator(t, g, clock, "write")
	_, nodeTr := addNode(t, g, clock, "a")

	params := v1.NodeEventParams{Event: "deploy", IdempotencyKey: "deploy-42"}
	for range 3 {
		payload, shape := dispatch(t, g, op, v1.MethodNodeEvent, params)
		require.Nil(t, shape)
		var res v1.NodeEventResult
		require.NoError(t, json.Unmarshal(payload.(json.RawMessage), &res))
		assert.Equal(t, 1, res.Delivered)
	}
	assert.Len(t, nodeTr.events(t, v1.EventNodeEvent), 1)
}

func TestNodeEvent_IdempotencyKeyIsPerCallerAndRequest(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	opA, _ := addOperator(t, g, clock, "write")
	opB, _ := addOperator(t, g, clock, "write")
	_, aTr := addNode(t, g, clock, "a")
	_, bTr := addNode(t, g, clock, "b")

	delivered := func(payload any) int {
		var res v1.NodeEventResult
		require.NoError(t, json.Unmarshal(payload.(json.RawMessage), &res))
		return res.Delivered
	}

	payload, shape := dispatch(t, g, opA, v1.MethodNodeEvent,
		v1.NodeEventParams{Node: "a", Event: "camera.snap", IdempotencyKey: "k1"})
	require.Nil(t, shape)
	assert.Equal(t, 1, delivered(payload))

	// Another operator reusing the key runs its own request.
	payload, shape = dispatch(t, g, opB, v1.MethodNodeEvent,
		v1.NodeEventParams{Node: "b", Event: "wipe", IdempotencyKey: "k1"})
	require.Nil(t, shape)
	assert.Equal(t, 1, delivered(payload))
	require.Len(t, bTr.events(t, v1.EventNodeEvent), 1)
	assert.Equal(t, "wipe", bTr.events(t, v1.EventNodeEvent)[0]["payload"].(map[string]any)["event"])

	// Same operator, same key, different event is not served from cache either.
	_, shape = dispatch(t, g, opA, v1.MethodNodeEvent,
		v1.NodeEventParams{Node: "a", Event: "camera.stop", IdempotencyKey: "k1"})
	require.Nil(t, shape)
	assert.Len(t, aTr.events(t, v1.EventNodeEvent), 2)

	// An exact retry is still deduplicated.
	_, shape = dispatch(t, g, opA, v1.MethodNodeEvent,
		v1.NodeEventParams{Node: "a", Event: "camera.snap", IdempotencyKey: "k1"})
	require.Nil(t, shape)
	assert.Len(t, aTr.events(t, v1.EventNodeEvent), 2)
}

func TestNodeEvent_Validation(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, _ := addOperator(t, g, clock, "write")
	reader, _ := addOperator(t, g, clock, "read")
	node, _ := addNode(t, g, clock, "a")

	long := make([]byte, maxEventNameLen+1)
	for i := range long {
		long[i] = 'x'
	}

	cases := []struct {
		name   string
		client *controlplane.Client
		params v1.NodeEventParams
		code   string
	}{
		{"missing event", op, v1.NodeEventParams{}, v1.CodeInvalidRequest},
		{"long event", op, v1.NodeEventParams{Event: string(long)}, v1.CodeInvalidRequest},
		{"unknown node", op, v1.NodeEventParams{Node: "ghost", Event: "x"}, v1.CodeNotFound},
		{"read scope", reader, v1.NodeEventParams{Event: "x"}, v1.CodeForbidden},
		{"node caller", node, v1.NodeEventParams{Event: "x"}, v1.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, shape := dispatch(t, g, tc.client, v1.MethodNodeEvent, tc.params)
			require.NotNil(t, shape)
			assert.Equal(t, tc.code, shape.Code)
		})
	}
}

func TestNodeMutators_NotifyOperators(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock, nil)
	op, opTr := addOperator(t, g, clock, "read")
	node, _ := addNode(t, g, clock, "a")

	_, shape := dispatch(t, g, node, v1.MethodNodeCapabilitiesUpdate, v1.CapabilitiesUpdateParams{
		Caps:     []string{"screen"},
		Commands: []string{"screen.record"},
	})
	require.Nil(t, shape)
	info, _ := node.NodeInfo()
	assert.Equal(t, []string{"screen"}, info.Capabilities)

	_, shape = dispatch(t, g, node, v1.MethodNodeForeground, v1.ForegroundParams{Foreground: false})
	require.Nil(t, shape)
	info, _ = node.NodeInfo()
	assert.False(t, info.IsForeground)

	presence := opTr.events(t, v1.EventPresence)
	require.Len(t, presence, 2)
	for _, p := range presence {
		assert.Equal(t, v1.PresenceUpdated, p["payload"].(map[string]any)["state"])
	}

	_, shape = dispatch(t, g, op, v1.MethodNodeForeground, v1.ForegroundParams{})
	require.NotNil(t, shape)
	assert.Equal(t, v1.CodeForbidden, shape.Code)
}
