package protocol_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/photon/protocol"
)

var _ = Describe("Writer", func() {
	header := protocol.Header{
		SrcAddress:  1,
		DestAddress: 2,
		Direction:   protocol.Uplink,
		PacketType:  protocol.Reliable,
		StreamType:  protocol.Cmd,
		Counter:     32768,
		TickTime:    0,
	}

	Describe("Checksum", func() {
		It("computes CRC-16/CCITT-FALSE", func() {
			Expect(protocol.Checksum([]byte("123456789"))).To(Equal(uint16(0x29b1)))
		})
	})

	Describe("AppendHeader", func() {
		It("encodes the counter as two little endian bytes", func() {
			encoded := protocol.AppendHeader(nil, header)
			// src, dest, direction, packetType, streamType are single byte varints
			Expect(encoded[:5]).To(Equal([]byte{0x01, 0x02, 0x00, 0x02, 0x02}))
			Expect(encoded[5:7]).To(Equal([]byte{0x00, 0x80}))
			Expect(encoded[7:]).To(Equal([]byte{0x00}))
		})
	})

	Describe("EncodeFrame", func() {
		It("starts with the big endian separator", func() {
			frame, err := protocol.EncodeFrame(header, []byte{0x01, 0x02})
			Expect(err).To(Succeed())
			Expect(frame[:2]).To(Equal([]byte{0x9c, 0x3e}))
		})

		It("writes a length covering header, payload and crc", func() {
			payload := []byte{0x01, 0x02}
			frame, err := protocol.EncodeFrame(header, payload)
			Expect(err).To(Succeed())

			headerSize := len(protocol.AppendHeader(nil, header))
			Expect(binary.LittleEndian.Uint16(frame[2:4])).To(Equal(uint16(headerSize + len(payload) + 2)))
			Expect(frame).To(HaveLen(4 + headerSize + len(payload) + 2))
		})

		It("ends with the crc of the length field through the payload", func() {
			frame, err := protocol.EncodeFrame(header, []byte{0xaa})
			Expect(err).To(Succeed())

			crc := protocol.Checksum(frame[2 : len(frame)-2])
			Expect(binary.LittleEndian.Uint16(frame[len(frame)-2:])).To(Equal(crc))
		})

		It("round trips through DecodeFrame", func() {
			header := protocol.Header{
				SrcAddress:  1 << 40,
				DestAddress: 300,
				Direction:   protocol.Downlink,
				PacketType:  protocol.Receipt,
				StreamType:  protocol.User,
				Counter:     0xffff,
				TickTime:    123456789,
			}
			payload := bytes.Repeat([]byte{0x9c, 0x3e}, 100)

			frame, err := protocol.EncodeFrame(header, payload)
			Expect(err).To(Succeed())

			packet, err := protocol.DecodeFrame(frame[2:])
			Expect(err).To(Succeed())
			Expect(packet.Header).To(Equal(header))
			Expect(packet.Payload).To(Equal(payload))
		})

		It("round trips an empty payload", func() {
			frame, err := protocol.EncodeFrame(header, nil)
			Expect(err).To(Succeed())

			packet, err := protocol.DecodeFrame(frame[2:])
			Expect(err).To(Succeed())
			Expect(packet.Header).To(Equal(header))
			Expect(packet.Payload).To(BeEmpty())
		})

		It("refuses frames larger than the maximum frame size", func() {
			_, err := protocol.EncodeFrame(header, make([]byte, protocol.DefaultMaxFrameSize))
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindFraming))
		})

		It("accepts a frame of exactly the maximum frame size", func() {
			headerSize := len(protocol.AppendHeader(nil, header))
			payload := make([]byte, protocol.DefaultMaxFrameSize-2-headerSize-2)

			frame, err := protocol.EncodeFrame(header, payload)
			Expect(err).To(Succeed())
			Expect(frame).To(HaveLen(protocol.DefaultMaxFrameSize + 2))
		})
	})

	Describe("WriteFrame", func() {
		It("writes the encoded frame", func() {
			w := bytes.NewBuffer([]byte{})
			Expect(protocol.WriteFrame(w, header, []byte{0x01})).To(Succeed())

			frame, err := protocol.EncodeFrame(header, []byte{0x01})
			Expect(err).To(Succeed())
			Expect(w.Bytes()).To(Equal(frame))
		})
	})

	Describe("Buffer", func() {
		It("refuses writes that do not fit", func() {
			buf := protocol.NewBuffer(3)
			Expect(buf.Write([]byte{1, 2})).To(Equal(2))

			_, err := buf.Write([]byte{3, 4})
			Expect(err).To(MatchError(protocol.ErrNotEnoughSpace))
			Expect(buf.Bytes()).To(Equal([]byte{1, 2}))
		})
	})
})
