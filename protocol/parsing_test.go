package protocol_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/photon/protocol"
)

var _ = Describe("Parsing", func() {
	header := protocol.Header{
		SrcAddress:  2,
		DestAddress: 1,
		Direction:   protocol.Downlink,
		PacketType:  protocol.Unreliable,
		StreamType:  protocol.Telem,
		Counter:     7,
		TickTime:    99,
	}

	Describe("DecodeFrame()", func() {
		It("returns an error if the frame is shorter than 4 bytes", func() {
			_, err := protocol.DecodeFrame([]byte{0x01, 0x00, 0x00})
			Expect(err).To(MatchError(protocol.ErrFrameTooShort))
		})

		It("returns an error if the crc does not match", func() {
			frame, err := protocol.EncodeFrame(header, []byte{0x01, 0x02, 0x03})
			Expect(err).To(Succeed())

			frame[len(frame)-3] ^= 0x01

			_, err = protocol.DecodeFrame(frame[2:])
			Expect(errors.Is(err, protocol.ErrInvalidCrc)).To(BeTrue())
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindIntegrity))
		})

		It("returns an error if the header is truncated", func() {
			// length(2) + src varint only + crc
			body := []byte{0x03, 0x00, 0x02}
			crc := protocol.Checksum(body)
			frame := append(body, byte(crc), byte(crc>>8))

			_, err := protocol.DecodeFrame(frame)
			Expect(errors.Is(err, protocol.ErrInvalidHeader)).To(BeTrue())
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindHeader))
		})

		It("returns an error if the stream type is out of range", func() {
			bad := header
			bad.StreamType = 9

			frame, err := protocol.EncodeFrame(bad, nil)
			Expect(err).To(Succeed())

			_, err = protocol.DecodeFrame(frame[2:])
			Expect(errors.Is(err, protocol.ErrInvalidHeader)).To(BeTrue())
		})

		It("returns an error if the packet type is out of range", func() {
			bad := header
			bad.PacketType = -1

			frame, err := protocol.EncodeFrame(bad, nil)
			Expect(err).To(Succeed())

			_, err = protocol.DecodeFrame(frame[2:])
			Expect(errors.Is(err, protocol.ErrInvalidHeader)).To(BeTrue())
		})
	})

	Describe("DecodeReceipt()", func() {
		It("parses an Ok receipt with handler data", func() {
			payload := protocol.AppendReceipt(nil, protocol.ReceiptPayload{
				Type: protocol.ReceiptOk,
				Data: []byte("done"),
			})
			Expect(payload[0]).To(Equal(byte(0x00)))

			receipt, err := protocol.DecodeReceipt(payload)
			Expect(err).To(Succeed())
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
			Expect(receipt.Data).To(Equal([]byte("done")))
		})

		It("parses a counter correction", func() {
			payload := protocol.AppendReceipt(nil, protocol.ReceiptPayload{
				Type:    protocol.ReceiptCounterCorrection,
				Counter: 40000,
			})

			receipt, err := protocol.DecodeReceipt(payload)
			Expect(err).To(Succeed())
			Expect(receipt.Type).To(Equal(protocol.ReceiptCounterCorrection))
			Expect(receipt.Counter).To(Equal(uint16(40000)))
		})

		It("returns an error if a counter correction has no counter", func() {
			_, err := protocol.DecodeReceipt([]byte{0x06, 0x01})
			Expect(err).To(MatchError(protocol.ErrInvalidReceipt))
		})

		It("returns an error for an unknown receipt type", func() {
			_, err := protocol.DecodeReceipt([]byte{0x08})
			Expect(err).To(MatchError(protocol.ErrInvalidReceipt))
		})

		It("returns an error for an empty payload", func() {
			_, err := protocol.DecodeReceipt(nil)
			Expect(err).To(MatchError(protocol.ErrInvalidReceipt))
		})
	})

	Describe("ParseStreamType()", func() {
		It("parses every stream name", func() {
			for _, s := range protocol.StreamTypes {
				parsed, err := protocol.ParseStreamType(s.String())
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(s))
			}
		})

		It("returns an error for unknown names", func() {
			_, err := protocol.ParseStreamType("video")
			Expect(errors.Is(err, protocol.ErrUnknownStream)).To(BeTrue())
		})
	})

	Describe("KindOf()", func() {
		It("looks through wrapped errors", func() {
			err := fmt.Errorf("while handling: %w", protocol.ErrCounterMismatch)
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindSequence))
		})

		It("reports unknown errors", func() {
			Expect(protocol.KindOf(errors.New("boom"))).To(Equal(protocol.KindUnknown))
			Expect(protocol.KindOf(nil)).To(Equal(protocol.KindNone))
		})
	})
})
