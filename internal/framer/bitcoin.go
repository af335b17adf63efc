package framer

import (
	"encoding/binary"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
)

// BitcoinHeaderSize is magic(4) + command(12) + length(4) + checksum(4).
const BitcoinHeaderSize = 24

// MaxBitcoinPayload is the maximum accepted payload length (spec.md §4.2:
// "Length > 32 MiB = malformed"). Exactly 32 MiB is accepted.
const MaxBitcoinPayload = 32 * 1024 * 1024

// ParseBitcoinMessage recognizes one Bitcoin P2P wire message:
// magic(4) + command(12, null-padded ASCII) + length(u32 LE) + checksum(4)
// + payload(length). magic is the network's expected 4-byte magic value.
func ParseBitcoinMessage(view []byte, magic [4]byte) Result {
	if len(view) < BitcoinHeaderSize {
		return needMore(BitcoinHeaderSize - len(view))
	}

	if view[0] != magic[0] || view[1] != magic[1] || view[2] != magic[2] || view[3] != magic[3] {
		return malformed("bitcoin: magic mismatch")
	}

	length := binary.LittleEndian.Uint32(view[16:20])
	if length > MaxBitcoinPayload {
		return malformed("bitcoin: payload exceeds 32 MiB")
	}

	total := BitcoinHeaderSize + int(length)
	if len(view) < total {
		return needMore(total - len(view))
	}

	checksum := view[20:24]
	payload := view[BitcoinHeaderSize:total]
	digest := hashkernel.Sha256d(payload)
	if checksum[0] != digest[0] || checksum[1] != digest[1] || checksum[2] != digest[2] || checksum[3] != digest[3] {
		return malformed("bitcoin: checksum mismatch")
	}

	return frameReady(0, total, "bitcoin")
}

// BitcoinCommand extracts the null-padded 12-byte ASCII command from a
// ready frame's header.
func BitcoinCommand(frame []byte) string {
	end := 16
	for i := 4; i < 16; i++ {
		if frame[i] == 0 {
			end = i
			break
		}
	}
	return string(frame[4:end])
}
