// Package stream keeps the per stream sequence counters of one endpoint.
//
// Counters are named from the point of view of the endpoint that owns them:
// Outbound counters number the packets it sends, Inbound counters track what
// it expects to receive next. On the device, outbound is downlink and inbound
// is uplink. On the station it is the other way around.
package stream

import (
	"fmt"

	"github.com/luma/photon/protocol"
)

// InitialCounter is the midpoint of the counter range so that wraparound in
// either direction is equally far away when a session starts.
const InitialCounter uint16 = 1 << 15

// Counters is one pair of sequence counters.
type Counters struct {
	// Current is the counter the next outbound packet is sent with.
	Current uint16 `json:"current"`

	// Expected is the counter the next inbound packet should carry.
	Expected uint16 `json:"expected"`
}

// State holds the counters of a single logical stream. It must only be
// mutated by the engine that owns it.
type State struct {
	Type       protocol.StreamType `json:"-"`
	Reliable   Counters            `json:"reliable"`
	Unreliable Counters            `json:"unreliable"`
}

func NewState(t protocol.StreamType) *State {
	s := &State{Type: t}
	s.Reset()
	return s
}

// Reset returns every counter to InitialCounter.
func (s *State) Reset() {
	s.Reliable = Counters{Current: InitialCounter, Expected: InitialCounter}
	s.Unreliable = Counters{Current: InitialCounter, Expected: InitialCounter}
}

// NextUnreliable returns the counter for an outbound unreliable packet and
// advances it.
func (s *State) NextUnreliable() uint16 {
	c := s.Unreliable.Current
	s.Unreliable.Current++
	return c
}

// ObserveUnreliable records an inbound unreliable packet. Lost unreliable
// packets are tolerated, the expected counter simply follows the sender.
func (s *State) ObserveUnreliable(counter uint16) {
	s.Unreliable.Expected = counter + 1
}

// CheckReliable returns ErrCounterMismatch unless counter is the one this
// stream expects next. It never changes the state.
func (s *State) CheckReliable(counter uint16) error {
	if counter != s.Reliable.Expected {
		return fmt.Errorf("Received %s counter %d but expected %d: %w",
			s.Type, counter, s.Reliable.Expected, protocol.ErrCounterMismatch)
	}

	return nil
}

// AcceptReliable advances the expected inbound reliable counter after a
// reliable packet has been processed.
func (s *State) AcceptReliable() {
	s.Reliable.Expected++
}

// AdvanceReliable advances the outbound reliable counter once a reliable
// packet has been acknowledged with an Ok receipt.
func (s *State) AdvanceReliable() {
	s.Reliable.Current++
}

// CorrectReliable overwrites the outbound reliable counter with the one the
// peer asked for.
func (s *State) CorrectReliable(counter uint16) {
	s.Reliable.Current = counter
}

// Registry holds one State per logical stream.
type Registry struct {
	states [protocol.NumStreamTypes]*State
}

func NewRegistry() *Registry {
	r := &Registry{}
	for _, t := range protocol.StreamTypes {
		r.states[t] = NewState(t)
	}

	return r
}

// Get returns the state for t, or ErrUnknownStream.
func (r *Registry) Get(t protocol.StreamType) (*State, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("Failed to find %s: %w", t, protocol.ErrUnknownStream)
	}

	return r.states[t], nil
}

// MustGet is Get for stream types that are known to be valid.
func (r *Registry) MustGet(t protocol.StreamType) *State {
	s, err := r.Get(t)
	if err != nil {
		panic(err)
	}

	return s
}

// Each calls fn for every stream in wire order.
func (r *Registry) Each(fn func(*State)) {
	for _, s := range r.states {
		fn(s)
	}
}
