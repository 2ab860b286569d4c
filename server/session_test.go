package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/Mmx233/klf/protocol"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	goleak.VerifyTestMain(m)
}

func newPipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	return newSession(server, 4, time.Second, time.Now(), zerolog.Nop()), client
}

type recordedHooks struct {
	frames chan inbound
	lost   chan string
}

func newRecordedHooks() *recordedHooks {
	return &recordedHooks{
		frames: make(chan inbound, 16),
		lost:   make(chan string, 4),
	}
}

func (h *recordedHooks) hooks() sessionHooks {
	return sessionHooks{
		deliver: func(m inbound) bool {
			h.frames <- m
			return true
		},
		lost: func(_ *Session, reason string) { h.lost <- reason },
		now:  time.Now,
	}
}

func waitClosed(t *testing.T, s *Session, wg *sync.WaitGroup) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
	wg.Wait()
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateAwaitingHandshake, true},
		{StateConnecting, StateActive, false},
		{StateConnecting, StateEnding, true},
		{StateAwaitingHandshake, StateActive, true},
		{StateAwaitingHandshake, StateEnding, true},
		{StateAwaitingHandshake, StateClosed, false},
		{StateActive, StateAwaitingHandshake, false},
		{StateActive, StateEnding, true},
		{StateEnding, StateActive, false},
		{StateEnding, StateClosed, true},
		{StateClosed, StateEnding, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

// Property 1: Session states only move forward
// *For any* pair of states, a legal transition always leads to a later state
// and Closed has no way out.
func TestProperty_StatesOnlyMoveForward(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := State(rapid.IntRange(int(StateConnecting), int(StateClosed)).Draw(t, "from"))
		to := State(rapid.IntRange(int(StateConnecting), int(StateClosed)).Draw(t, "to"))

		if canTransition(from, to) && to <= from {
			t.Fatalf("transition %s -> %s moves backwards", from, to)
		}
		if from == StateClosed && canTransition(from, to) {
			t.Fatalf("closed session moved to %s", to)
		}
	})
}

func TestSession_TransitionRejectsIllegalEdge(t *testing.T) {
	s, _ := newPipeSession(t)
	defer s.conn.Close()

	assert.ErrorIs(t, s.transition(StateActive), ErrIllegalTransition)
	require.NoError(t, s.transition(StateAwaitingHandshake))
	require.NoError(t, s.transition(StateActive))
	assert.Equal(t, StateActive, s.State())
}

func TestSession_EndIsIdempotent(t *testing.T) {
	s, client := newPipeSession(t)
	h := newRecordedHooks()
	require.NoError(t, s.transition(StateAwaitingHandshake))

	var wg sync.WaitGroup
	s.start(&wg, h.hooks())

	farewell := protocol.EncodeMessage(protocol.ServerConnectionEnd, protocol.EncodeString("bye"))
	assert.True(t, s.End("bye", true, farewell))
	assert.False(t, s.End("again", false, nil))

	id, payload, err := protocol.ReadMessage(client)
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerConnectionEnd, protocol.ParseServerMessageID(id))
	assert.Equal(t, "bye", protocol.DecodeString(payload))

	waitClosed(t, s, &wg)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "bye", s.EndReason())
	assert.True(t, s.Intentional())
	assert.Empty(t, h.lost)
}

func TestSession_DeliversFramesInOrder(t *testing.T) {
	s, client := newPipeSession(t)
	h := newRecordedHooks()
	require.NoError(t, s.transition(StateAwaitingHandshake))

	var wg sync.WaitGroup
	s.start(&wg, h.hooks())

	stream := append(
		protocol.EncodeMessage(protocol.ClientKeepAlive, nil),
		protocol.EncodeMessage(protocol.ClientTextMessage, protocol.EncodeString("hi"))...,
	)
	_, err := client.Write(stream)
	require.NoError(t, err)

	first := <-h.frames
	second := <-h.frames
	assert.Equal(t, protocol.ClientKeepAlive, first.id)
	assert.Equal(t, protocol.ClientTextMessage, second.id)
	assert.Equal(t, "hi", protocol.DecodeString(second.payload))
	assert.Same(t, s, second.session)
	assert.False(t, second.udp)

	require.NoError(t, client.Close())
	assert.Equal(t, "Connection lost", <-h.lost)

	s.End("Connection lost", false, nil)
	waitClosed(t, s, &wg)
}

func TestSession_OversizedFrameIsInvalidMessage(t *testing.T) {
	s, client := newPipeSession(t)
	h := newRecordedHooks()
	require.NoError(t, s.transition(StateAwaitingHandshake))

	var wg sync.WaitGroup
	s.start(&wg, h.hooks())

	header := protocol.EncodeHeader(int32(protocol.ClientTextMessage), protocol.MaxPayloadSize+1)
	_, err := client.Write(header[:])
	require.NoError(t, err)
	assert.Equal(t, "Invalid message", <-h.lost)

	s.End("Invalid message", false, nil)
	waitClosed(t, s, &wg)
}

func TestSession_FlushWritesQueueInOrder(t *testing.T) {
	s, client := newPipeSession(t)
	h := newRecordedHooks()
	require.NoError(t, s.transition(StateAwaitingHandshake))

	var wg sync.WaitGroup
	s.start(&wg, h.hooks())

	s.send(protocol.ServerMessage, protocol.EncodeString("one"))
	s.send(protocol.ServerTextMessage, protocol.EncodeString("two"))
	s.requestFlush()

	for _, want := range []string{"one", "two"} {
		_, payload, err := protocol.ReadMessage(client)
		require.NoError(t, err)
		assert.Equal(t, want, protocol.DecodeString(payload))
	}

	s.End("done", true, nil)
	waitClosed(t, s, &wg)
}

func TestSession_ActivityDecay(t *testing.T) {
	s, _ := newPipeSession(t)
	defer s.conn.Close()

	t0 := time.Unix(1000, 0)
	assert.True(t, s.updateActivity(ActivityInFlight, t0))
	assert.False(t, s.updateActivity(ActivityInGame, t0))
	assert.Equal(t, ActivityInFlight, s.Activity())

	assert.False(t, s.decayActivity(t0.Add(5*time.Second), 10*time.Second))
	assert.True(t, s.decayActivity(t0.Add(11*time.Second), 10*time.Second))
	assert.Equal(t, ActivityInactive, s.Activity())
}

func TestSession_ActivityDecaysOneLevel(t *testing.T) {
	s, _ := newPipeSession(t)
	defer s.conn.Close()

	t0 := time.Unix(1000, 0)
	s.updateActivity(ActivityInFlight, t0)
	s.updateActivity(ActivityInGame, t0.Add(8*time.Second))

	assert.True(t, s.decayActivity(t0.Add(11*time.Second), 10*time.Second))
	assert.Equal(t, ActivityInGame, s.Activity())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "10.1.2.3", hostOf(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 2075}))
	assert.Equal(t, "::1", hostOf(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 2075}))
}
