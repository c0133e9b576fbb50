package peer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/warppipe/swift-torrent/stats"
	"github.com/warppipe/swift-torrent/wire"
)

type mockWire struct {
	wire.Wire
	mock.Mock
}

func (m *mockWire) SendUnchoke() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockWire) SendChoke() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockWire) Close() {}

type mockManager struct {
	Manager
	mock.Mock
}

func (m *mockManager) PeerList() []*PeerView {
	args := m.Called()
	return args.Get(0).([]*PeerView)
}

func interestedState(amChoking bool) *State {
	s := NewState(4)
	s.SetPeerInterested(true)
	s.SetAmChoking(amChoking)
	return s
}

func TestChokeUnchokesFastestAndOptimistic(t *testing.T) {
	st := stats.NewStats(0, 0, 1000)
	views := make([]*PeerView, 0, 6)
	wires := make([]*mockWire, 0, 6)
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("10.0.0.%d:6881", i)
		w := &mockWire{}
		views = append(views, &PeerView{Key: key, State: interestedState(true), Wire: w})
		wires = append(wires, w)
		// peer i is rated at i KiB per tick after one Tick
		st.UpdatePeer(key, i*1024*stats.PONDERATION_TIME, 0)
	}

	pm := &mockManager{}
	pm.On("PeerList").Return(views)

	// fastest four (5,4,3,2) plus one optimistic from {1,0}
	for _, w := range wires[2:] {
		w.On("SendUnchoke").Return(nil).Once()
	}
	wires[1].On("SendUnchoke").Return(nil).Maybe()
	wires[0].On("SendUnchoke").Return(nil).Maybe()

	c := NewChoke(pm, st, func() bool { return false }).(*choke)
	c.run(time.Now())

	for _, w := range wires[2:] {
		w.AssertExpectations(t)
	}
	unchokedSlow := 0
	for _, v := range views[:2] {
		if !v.State.AmChoking() {
			unchokedSlow++
		}
	}
	assert.Equal(t, 1, unchokedSlow, "exactly one optimistic slot among the slow peers")
	pm.AssertExpectations(t)
}

func TestChokeTransitionsOnly(t *testing.T) {
	st := stats.NewStats(0, 0, 1000)
	w := &mockWire{}
	view := &PeerView{Key: "10.0.0.1:6881", State: interestedState(true), Wire: w}
	pm := &mockManager{}
	pm.On("PeerList").Return([]*PeerView{view})

	// single interested peer takes a rate-ranked slot and is unchoked once;
	// the second tick must not resend
	w.On("SendUnchoke").Return(nil).Once()
	c := NewChoke(pm, st, func() bool { return false }).(*choke)
	now := time.Now()
	c.run(now)
	c.run(now.Add(CHOKE_INTERVAL))
	w.AssertExpectations(t)
	assert.False(t, view.State.AmChoking())
}

func TestUninterestedPeerStaysChoked(t *testing.T) {
	st := stats.NewStats(0, 0, 1000)
	w := &mockWire{}
	s := NewState(4) // never declares interest
	view := &PeerView{Key: "10.0.0.9:6881", State: s, Wire: w}
	pm := &mockManager{}
	pm.On("PeerList").Return([]*PeerView{view})

	c := NewChoke(pm, st, func() bool { return false }).(*choke)
	c.run(time.Now())
	w.AssertNotCalled(t, "SendUnchoke")
	assert.True(t, s.AmChoking())
}
