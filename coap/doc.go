/*
# CoAP over TLS codec

This package encodes and decodes the CoAP-derived messages the attestation client exchanges
with its server over a persistent TLS stream. The framing follows CoAP over reliable
transports: there is no version, type or message ID, only a length/token-length byte in
front of the code.

	         0       1       2       3       4       5       6       7
	     ┌───────────────────────────────┬───────────────────────────────┐
	   0 │          Len (4 bits)         │          TKL (4 bits)         │
	     ├───────────────────────────────┴───────────────────────────────┤
	     │  Extended Len: 1 byte if Len == 13, 2 bytes if Len == 14      │
	     ├───────────────────────────────────────────────────────────────┤
	     │                         Code (1 byte)                         │
	     ├───────────────────────────────────────────────────────────────┤
	     │                       Token (TKL bytes)                       │
	     ├───────────────────────────────────────────────────────────────┤
	     │  Options: ┌───────────────────┬───────────────────┐           │
	     │           │ Delta (4 bits)    │ Length (4 bits)   │           │
	     │           ├───────────────────┴───────────────────┤           │
	     │           │ Extended Delta (0, 1 or 2 bytes)      │           │
	     │           ├───────────────────────────────────────┤           │
	     │           │ Extended Length (0, 1 or 2 bytes)     │           │
	     │           ├───────────────────────────────────────┤           │
	     │           │ Value (Length bytes)                  │           │
	     │           └───────────────────────────────────────┘           │
	     ├───────────────────────────────────────────────────────────────┤
	     │               0xFF payload marker (if payload)                │
	     ├───────────────────────────────────────────────────────────────┤
	     │                     Payload (remaining bytes)                 │
	     └───────────────────────────────────────────────────────────────┘

Len counts the options and the payload (including the marker), not the token.

Len, option delta and option length share one 4-bit scheme, see [ExtendedLength]:

	value 0..12       nibble = value, no extension
	value 13..268     nibble = 13, 1 byte  (value - 13)
	value 269..65804  nibble = 14, 2 bytes (value - 269, big endian)
	nibble 15         reserved, never valid (0xFF as a whole byte is the payload marker)

Options are stored as deltas to the previous option number, so a message must list its
options in ascending order.
*/
package coap
