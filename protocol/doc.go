package protocol

// This package implements framing and serialising packets for the link
// protocol that a Photon device and its control station speak over a serial
// line (or anything else that behaves like an unreliable byte stream).
//
// The protocol aims to
//
// - survive junk, dropped bytes and fragmentation on the line
// - be cheap to parse on a microcontroller
// - multiplex several independent logical streams over one link
//
// - `Stream`   - One of four logical channels: Firmware, Cmd, Telem, User.
// - `Uplink`   - Traffic from the station to the device.
// - `Downlink` - Traffic from the device to the station.
// - `Receipt`  - The answer to a reliable packet.
//
// === Framing
//
//   ```
//   9c 3e | <length:2 LE> | <header> | <payload> | <crc16:2 LE>
//   ```
//
// `length` counts the header, the payload and the crc. The crc covers the length
// field through the end of the payload. A frame, measured from the length field
// through the crc, must not exceed 1024 bytes.
//
// Receivers scan for the separator and throw away whatever precedes it. When a
// candidate frame turns out to be invalid the receiver drops a single byte and
// scans again, so a false separator never costs more than one byte of a real
// frame.
//
// === Header
//
//   ```
//   <src:uvarint> <dest:uvarint> <direction:varint> <packetType:varint>
//   <streamType:varint> <counter:2 LE> <tickTime:uvarint>
//   ```
//
// === Reliable packets
//
// Every reliable packet is answered with exactly one receipt carrying the same
// counter. The receipt payload starts with a varint receipt type
//
// - `0` Ok, followed by whatever the stream handler produced
// - `1` PacketError
// - `2` PayloadError
// - `3` CounterCorrection, followed by the receiver's expected counter (2 LE)
//
// Only one reliable packet per stream is in flight at a time. The sender
// retransmits it until a receipt arrives.
//
// Counters are 16 bits, wrap around, and start at 32768 on both ends.
//
