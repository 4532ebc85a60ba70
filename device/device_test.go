package device_test

import (
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/photon/device"
	"github.com/luma/photon/protocol"
)

var _ = Describe("Device", func() {
	var (
		dev      *device.Device
		options  device.Options
		commands *commandRecorder
		firmware *firmwareRecorder
	)

	BeforeEach(func() {
		commands = &commandRecorder{}
		firmware = &firmwareRecorder{}
		options = device.Options{
			Peer:     1,
			Role:     device.GroundControl,
			Address:  device.StaticAddress(2),
			Commands: commands,
			Firmware: firmware,
			Clock:    func() uint64 { return 1234 },
			Log:      zap.NewNop(),
		}
	})

	JustBeforeEach(func() {
		var err error
		dev, err = device.New(options)
		Expect(err).To(Succeed())
	})

	Describe("reliable packets", func() {
		It("acknowledges a command with an Ok receipt", func() {
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01, 0x02}))

			Expect(commands.calls).To(Equal([][]byte{{0x01, 0x02}}))
			Expect(dev.HasQueued()).To(BeTrue())

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			packet := decode(frame)
			Expect(packet.Header).To(Equal(protocol.Header{
				SrcAddress:  2,
				DestAddress: 1,
				Direction:   protocol.Downlink,
				PacketType:  protocol.Receipt,
				StreamType:  protocol.Cmd,
				Counter:     32768,
				TickTime:    1234,
			}))
			Expect(packet.Payload).To(Equal([]byte{0x00}))

			Expect(dev.Streams().MustGet(protocol.Cmd).Reliable.Expected).To(Equal(uint16(32769)))
		})

		It("returns handler results in the Ok receipt", func() {
			commands.reply = []byte("pong")
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x07}))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			_, receipt := decodeReceipt(frame)
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
			Expect(receipt.Data).To(Equal([]byte("pong")))
		})

		It("sends a counter correction instead of calling the handler on a mismatch", func() {
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 100, []byte{0x01}))

			Expect(commands.calls).To(BeEmpty())

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			header, receipt := decodeReceipt(frame)
			Expect(header.Counter).To(Equal(uint16(100)))
			Expect(receipt.Type).To(Equal(protocol.ReceiptCounterCorrection))
			Expect(receipt.Counter).To(Equal(uint16(32768)))

			Expect(dev.Streams().MustGet(protocol.Cmd).Reliable.Expected).To(Equal(uint16(32768)))

			// The sender resynchronises and tries again
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01}))
			Expect(commands.calls).To(HaveLen(1))

			frame, err = dev.GenNextPacket()
			Expect(err).To(Succeed())

			_, receipt = decodeReceipt(frame)
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
		})

		It("sends a payload error receipt when the handler fails", func() {
			commands.err = errRejected
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x09}))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			_, receipt := decodeReceipt(frame)
			Expect(receipt.Type).To(Equal(protocol.ReceiptPayloadError))

			// The counter is not consumed by a rejected payload
			Expect(dev.Streams().MustGet(protocol.Cmd).Reliable.Expected).To(Equal(uint16(32768)))

			commands.err = nil
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x09}))

			frame, err = dev.GenNextPacket()
			Expect(err).To(Succeed())

			_, receipt = decodeReceipt(frame)
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
		})

		It("stops scanning while a reply is queued", func() {
			input := uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01})
			input = append(input, uplink(protocol.Reliable, protocol.Cmd, 32769, []byte{0x02})...)

			dev.AcceptInput(input)
			Expect(commands.calls).To(HaveLen(1))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())
			header, _ := decodeReceipt(frame)
			Expect(header.Counter).To(Equal(uint16(32768)))

			dev.Process()
			Expect(commands.calls).To(HaveLen(2))

			frame, err = dev.GenNextPacket()
			Expect(err).To(Succeed())
			header, _ = decodeReceipt(frame)
			Expect(header.Counter).To(Equal(uint16(32769)))
		})

		It("recovers the following frame after a crc failure", func() {
			corrupt := uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x10, 0x20})
			corrupt[len(corrupt)-3] ^= 0x01

			dev.AcceptInput(append(corrupt, uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x30})...))

			Expect(commands.calls).To(Equal([][]byte{{0x30}}))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())
			_, receipt := decodeReceipt(frame)
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
		})

		It("reassembles a frame delivered in fragments", func() {
			frame := uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01, 0x02, 0x03})

			for i := range frame {
				dev.AcceptInput(frame[i : i+1])
			}

			Expect(commands.calls).To(Equal([][]byte{{0x01, 0x02, 0x03}}))
			Expect(dev.HasQueued()).To(BeTrue())
		})
	})

	Describe("unreliable packets", func() {
		It("does not reply to an unreliable packet", func() {
			dev.AcceptInput(uplink(protocol.Unreliable, protocol.Cmd, 40, []byte{0x01}))

			Expect(commands.calls).To(HaveLen(1))
			Expect(dev.HasQueued()).To(BeFalse())
			Expect(dev.Streams().MustGet(protocol.Cmd).Unreliable.Expected).To(Equal(uint16(41)))

			_, err := dev.GenNextPacket()
			Expect(err).To(MatchError(device.ErrNoDataAvailable))
		})

		It("treats empty command packets as link probes", func() {
			dev.AcceptInput(uplink(protocol.Unreliable, protocol.Cmd, 32768, nil))

			Expect(commands.calls).To(BeEmpty())
			Expect(dev.HasQueued()).To(BeFalse())
			Expect(dev.Streams().MustGet(protocol.Cmd).Unreliable.Expected).To(Equal(uint16(32769)))
		})

		It("consumes unreliable packets whose handler fails", func() {
			commands.err = errRejected
			dev.AcceptInput(uplink(protocol.Unreliable, protocol.Cmd, 1, []byte{0x01}))
			dev.AcceptInput(uplink(protocol.Unreliable, protocol.Cmd, 2, []byte{0x02}))

			Expect(commands.calls).To(Equal([][]byte{{0x01}, {0x02}}))
			Expect(dev.HasQueued()).To(BeFalse())
		})
	})

	Describe("rejected packets", func() {
		It("does not reply to an unreliable telemetry probe", func() {
			dev.AcceptInput(uplink(protocol.Unreliable, protocol.Telem, 32768, nil))

			Expect(dev.HasQueued()).To(BeFalse())
			_, err := dev.GenNextPacket()
			Expect(err).To(MatchError(device.ErrNoDataAvailable))
		})

		It("rejects user and telemetry packets", func() {
			dev.AcceptInput(uplink(protocol.Reliable, protocol.User, 32768, []byte{0x01}))
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Telem, 32768, []byte{0x01}))

			Expect(dev.HasQueued()).To(BeFalse())
		})

		It("rejects uplink receipts", func() {
			dev.AcceptInput(uplink(protocol.Receipt, protocol.Cmd, 32768, []byte{0x00}))

			Expect(commands.calls).To(BeEmpty())
			Expect(dev.HasQueued()).To(BeFalse())
		})

		It("rejects packets for another address", func() {
			frame, err := protocol.EncodeFrame(protocol.Header{
				SrcAddress:  1,
				DestAddress: 3,
				Direction:   protocol.Uplink,
				PacketType:  protocol.Reliable,
				StreamType:  protocol.Cmd,
				Counter:     32768,
			}, []byte{0x01})
			Expect(err).To(Succeed())

			dev.AcceptInput(frame)
			Expect(commands.calls).To(BeEmpty())
		})

		It("rejects packets from another peer", func() {
			frame, err := protocol.EncodeFrame(protocol.Header{
				SrcAddress:  5,
				DestAddress: 2,
				Direction:   protocol.Uplink,
				PacketType:  protocol.Reliable,
				StreamType:  protocol.Cmd,
				Counter:     32768,
			}, []byte{0x01})
			Expect(err).To(Succeed())

			dev.AcceptInput(frame)
			Expect(commands.calls).To(BeEmpty())
		})

		It("rejects downlink packets", func() {
			frame, err := protocol.EncodeFrame(protocol.Header{
				SrcAddress:  1,
				DestAddress: 2,
				Direction:   protocol.Downlink,
				PacketType:  protocol.Reliable,
				StreamType:  protocol.Cmd,
				Counter:     32768,
			}, []byte{0x01})
			Expect(err).To(Succeed())

			dev.AcceptInput(frame)
			Expect(commands.calls).To(BeEmpty())
		})

		Context("on a uav link", func() {
			BeforeEach(func() {
				options.Role = device.Uav
				options.Telemetry = telemetryFunc(func(w io.Writer) error {
					Fail("telemetry should not be collected")
					return nil
				})
			})

			It("rejects firmware packets", func() {
				dev.AcceptInput(uplink(protocol.Reliable, protocol.Firmware, 32768, []byte{0x01}))

				Expect(firmware.calls).To(BeEmpty())
				Expect(dev.HasQueued()).To(BeFalse())
			})

			It("never generates telemetry", func() {
				_, err := dev.GenNextPacket()
				Expect(err).To(MatchError(device.ErrNoDataAvailable))
			})
		})

		It("accepts firmware packets on a ground control link", func() {
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Firmware, 32768, []byte{0xaa}))

			Expect(firmware.calls).To(Equal([][]byte{{0xaa}}))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			header, receipt := decodeReceipt(frame)
			Expect(header.StreamType).To(Equal(protocol.Firmware))
			Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
		})
	})

	Describe("GenNextPacket()", func() {
		BeforeEach(func() {
			options.Telemetry = telemetryFunc(func(w io.Writer) error {
				_, err := w.Write([]byte("tm"))
				return err
			})
		})

		It("emits numbered telemetry when nothing is queued", func() {
			for _, counter := range []uint16{32768, 32769} {
				frame, err := dev.GenNextPacket()
				Expect(err).To(Succeed())

				packet := decode(frame)
				Expect(packet.Header.Direction).To(Equal(protocol.Downlink))
				Expect(packet.Header.PacketType).To(Equal(protocol.Unreliable))
				Expect(packet.Header.StreamType).To(Equal(protocol.Telem))
				Expect(packet.Header.SrcAddress).To(Equal(uint64(2)))
				Expect(packet.Header.DestAddress).To(Equal(uint64(1)))
				Expect(packet.Header.Counter).To(Equal(counter))
				Expect(packet.Payload).To(Equal([]byte("tm")))
			}
		})

		It("prefers firmware answers over telemetry", func() {
			firmware.answers = [][]byte{{0x05}}

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())
			Expect(decode(frame).Header.StreamType).To(Equal(protocol.Firmware))

			frame, err = dev.GenNextPacket()
			Expect(err).To(Succeed())
			Expect(decode(frame).Header.StreamType).To(Equal(protocol.Telem))
		})

		It("prefers the queued receipt over everything else", func() {
			firmware.answers = [][]byte{{0x05}}
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01}))

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())
			Expect(decode(frame).Header.PacketType).To(Equal(protocol.Receipt))
		})

		Context("when the telemetry source has nothing to report", func() {
			BeforeEach(func() {
				options.Telemetry = telemetryFunc(func(w io.Writer) error {
					return device.ErrNoDataAvailable
				})
			})

			It("does not consume a counter", func() {
				_, err := dev.GenNextPacket()
				Expect(err).To(MatchError(device.ErrNoDataAvailable))
				Expect(dev.Streams().MustGet(protocol.Telem).Unreliable.Current).To(Equal(uint16(32768)))
			})
		})

		It("drops a reply that does not fit in a frame", func() {
			commands.reply = make([]byte, 1020)
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01}))

			_, err := dev.GenNextPacket()
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
			Expect(dev.HasQueued()).To(BeFalse())
		})
	})

	Describe("buffering", func() {
		It("refuses a buffer that cannot hold a maximum size frame", func() {
			_, err := device.New(device.Options{Peer: 1, MaxFrameSize: 128, BufferSize: 129})
			Expect(err).To(MatchError(device.ErrBufferTooSmall))

			_, err = device.New(device.Options{Peer: 1, MaxFrameSize: 128, BufferSize: 130})
			Expect(err).To(Succeed())
		})

		Context("with a raised maximum frame size", func() {
			BeforeEach(func() {
				options.MaxFrameSize = 4096
			})

			It("buffers frames larger than the default buffer", func() {
				payload := make([]byte, 3000)
				for i := range payload {
					payload[i] = byte(i)
				}

				frame, err := protocol.AppendFrame(nil, protocol.Header{
					SrcAddress:  1,
					DestAddress: 2,
					Direction:   protocol.Uplink,
					PacketType:  protocol.Reliable,
					StreamType:  protocol.Cmd,
					Counter:     32768,
				}, payload, options.MaxFrameSize)
				Expect(err).To(Succeed())
				Expect(len(frame)).To(BeNumerically(">", 2*protocol.DefaultMaxFrameSize))

				for len(frame) > 0 {
					n := 500
					if n > len(frame) {
						n = len(frame)
					}

					dev.AcceptInput(frame[:n])
					frame = frame[n:]
				}

				Expect(commands.calls).To(Equal([][]byte{payload}))

				out, err := dev.GenNextPacket()
				Expect(err).To(Succeed())
				_, receipt := decodeReceipt(out)
				Expect(receipt.Type).To(Equal(protocol.ReceiptOk))
			})
		})

		Context("when input arrives faster than replies are taken", func() {
			BeforeEach(func() {
				options.MaxFrameSize = 48
				options.BufferSize = 64
			})

			It("drops the oldest bytes and keeps the newest frames", func() {
				dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01}))
				Expect(dev.HasQueued()).To(BeTrue())

				// Nothing is scanned while the reply is queued, so these pile up
				// and overflow the ring
				var total int
				for i := 0; i < 8; i++ {
					frame := uplink(protocol.Unreliable, protocol.Cmd, uint16(i+1), []byte{0x10 + byte(i)})
					total += len(frame)
					dev.AcceptInput(frame)
				}
				Expect(total).To(BeNumerically(">", options.BufferSize))
				Expect(commands.calls).To(HaveLen(1))

				_, err := dev.GenNextPacket()
				Expect(err).To(Succeed())

				dev.Process()

				Expect(len(commands.calls)).To(BeNumerically(">", 1))
				Expect(commands.calls).NotTo(ContainElement([]byte{0x10}))
				Expect(commands.calls[len(commands.calls)-1]).To(Equal([]byte{0x17}))
				Expect(dev.Streams().MustGet(protocol.Cmd).Unreliable.Expected).To(Equal(uint16(9)))
			})
		})
	})

	Describe("QueueCommand()", func() {
		It("queues an unreliable command towards the peer", func() {
			Expect(dev.QueueCommand(func(w io.Writer) error {
				_, err := w.Write([]byte{0x42})
				return err
			})).To(Succeed())

			frame, err := dev.GenNextPacket()
			Expect(err).To(Succeed())

			packet := decode(frame)
			Expect(packet.Header.Direction).To(Equal(protocol.Uplink))
			Expect(packet.Header.PacketType).To(Equal(protocol.Unreliable))
			Expect(packet.Header.StreamType).To(Equal(protocol.Cmd))
			Expect(packet.Header.DestAddress).To(Equal(uint64(1)))
			Expect(packet.Payload).To(Equal([]byte{0x42}))
		})

		It("refuses to overwrite a queued reply", func() {
			dev.AcceptInput(uplink(protocol.Reliable, protocol.Cmd, 32768, []byte{0x01}))

			err := dev.QueueCommand(func(w io.Writer) error { return nil })
			Expect(err).To(MatchError(device.ErrReplyPending))
		})
	})
})
