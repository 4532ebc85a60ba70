package stream_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/photon/protocol"
	"github.com/luma/photon/stream"
)

var _ = Describe("stream / State", func() {
	It("starts every counter at the midpoint", func() {
		s := stream.NewState(protocol.Cmd)
		Expect(s.Reliable).To(Equal(stream.Counters{Current: 32768, Expected: 32768}))
		Expect(s.Unreliable).To(Equal(stream.Counters{Current: 32768, Expected: 32768}))
	})

	It("follows the sender's unreliable counter", func() {
		s := stream.NewState(protocol.Telem)
		s.ObserveUnreliable(10)
		Expect(s.Unreliable.Expected).To(Equal(uint16(11)))

		s.ObserveUnreliable(3)
		Expect(s.Unreliable.Expected).To(Equal(uint16(4)))
	})

	It("wraps counters on overflow", func() {
		s := stream.NewState(protocol.Cmd)
		s.ObserveUnreliable(0xffff)
		Expect(s.Unreliable.Expected).To(Equal(uint16(0)))

		s.CorrectReliable(0xffff)
		s.AdvanceReliable()
		Expect(s.Reliable.Current).To(Equal(uint16(0)))
	})

	It("hands out consecutive unreliable counters", func() {
		s := stream.NewState(protocol.Cmd)
		Expect(s.NextUnreliable()).To(Equal(uint16(32768)))
		Expect(s.NextUnreliable()).To(Equal(uint16(32769)))
	})

	It("rejects unexpected reliable counters without changing state", func() {
		s := stream.NewState(protocol.Cmd)
		err := s.CheckReliable(5)
		Expect(err).To(MatchError(protocol.ErrCounterMismatch))
		Expect(s.Reliable.Expected).To(Equal(uint16(32768)))

		Expect(s.CheckReliable(32768)).To(Succeed())
		s.AcceptReliable()
		Expect(s.Reliable.Expected).To(Equal(uint16(32769)))
	})
})

var _ = Describe("stream / Registry", func() {
	It("holds an independent state per stream", func() {
		r := stream.NewRegistry()
		r.MustGet(protocol.Cmd).AcceptReliable()

		Expect(r.MustGet(protocol.Cmd).Reliable.Expected).To(Equal(uint16(32769)))
		Expect(r.MustGet(protocol.Firmware).Reliable.Expected).To(Equal(uint16(32768)))
	})

	It("returns an error for unknown streams", func() {
		_, err := stream.NewRegistry().Get(7)
		Expect(err).To(MatchError(protocol.ErrUnknownStream))
	})

	It("visits streams in wire order", func() {
		var seen []protocol.StreamType
		stream.NewRegistry().Each(func(s *stream.State) {
			seen = append(seen, s.Type)
		})
		Expect(seen).To(Equal([]protocol.StreamType{protocol.Firmware, protocol.Cmd, protocol.Telem, protocol.User}))
	})
})
