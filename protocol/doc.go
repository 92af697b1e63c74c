// Package protocol defines the wire format spoken between the debug agent
// running on the security coprocessor and the external debugging host.
//
// Every message (PDU) is framed as
//
//	Header (28) | Payload (0-4060) | Footer (8)
//
// with all integers little-endian. The two transfer directions use distinct
// start/end magic pairs so a device never reprocesses a loopback of its own
// traffic. The footer carries an additive two's-complement checksum over the
// header (minus the start magic) and the payload.
//
// Request identifiers are only valid inbound on the device; responses and
// notifications only outbound. Sequence numbers are stamped by the sender,
// start at 1 and increase strictly by one per PDU.
package protocol
