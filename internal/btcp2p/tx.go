package btcp2p

import (
	"encoding/binary"
	"fmt"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
	"github.com/djkazic/stratum-engine/pkg/util"
)

// Txid computes a transaction's id as sha256d(raw) in internal
// (non-reversed) byte order, matching the byte order Mempool Index keys
// entries by. Uses the capability-dispatched Sha256dFast path since txid
// computation has no midstate to reuse across calls.
func Txid(raw []byte) [32]byte {
	return hashkernel.Sha256dFast(raw)
}

// SegwitMarker and SegwitFlag identify a segwit-serialized transaction
// (BIP 144): marker byte 0x00 followed by flag byte 0x01 immediately
// after the 4-byte version field.
const (
	SegwitMarker = 0x00
	SegwitFlag   = 0x01
)

// IsSegwit reports whether raw looks like a BIP 144 witness
// serialization.
func IsSegwit(raw []byte) bool {
	return len(raw) > 6 && raw[4] == SegwitMarker && raw[5] == SegwitFlag
}

// TxIn is one transaction input.
type TxIn struct {
	PrevTxid  [32]byte // internal byte order, as transmitted on the wire
	PrevIndex uint32
	ScriptSig []byte
	Sequence  uint32
	Witness   [][]byte
}

// TxOut is one transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Transaction is the parsed shape of a raw "tx" message payload (spec.md
// §4.6: "parsing the transaction (inputs, outputs, witness), computing
// weight per BIP 141"). StrippedSize and TotalSize are captured directly
// off the input slice so Weight() needs no re-serialization.
type Transaction struct {
	Version  int32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime uint32

	Segwit       bool
	StrippedSize int // serialized size without the marker/flag/witness data
	TotalSize    int // serialized size including marker/flag/witness data
}

// Weight implements BIP 141: 3 * stripped-size + total-size, in weight
// units (so vsize = weight/4).
func (t *Transaction) Weight() int64 {
	return int64(3*t.StrippedSize + t.TotalSize)
}

// ParseTransaction decodes a raw transaction payload, handling both the
// legacy and BIP 144 witness serializations. It does not validate
// consensus rules (spec.md §1 Non-goals: "does not run consensus
// rules") — only enough structure to compute weight and identify spent
// outpoints for fee lookup.
func ParseTransaction(raw []byte) (*Transaction, error) {
	if len(raw) < 10 {
		return nil, fmt.Errorf("btcp2p: tx too short: %d bytes", len(raw))
	}

	off := 0
	version := int32(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4

	segwit := false
	if len(raw) > off+1 && raw[off] == SegwitMarker && raw[off+1] == SegwitFlag {
		segwit = true
		off += 2
	}

	numIn, n, err := util.ReadVarInt(raw[off:])
	if err != nil {
		return nil, fmt.Errorf("btcp2p: tx input count: %w", err)
	}
	off += n

	inputs := make([]TxIn, 0, numIn)
	for i := uint64(0); i < numIn; i++ {
		if off+36 > len(raw) {
			return nil, fmt.Errorf("btcp2p: tx input %d truncated", i)
		}
		var prevTxid [32]byte
		copy(prevTxid[:], raw[off:off+32])
		off += 32
		prevIndex := binary.LittleEndian.Uint32(raw[off : off+4])
		off += 4

		scriptLen, n, err := util.ReadVarInt(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("btcp2p: tx input %d script length: %w", i, err)
		}
		off += n
		if off+int(scriptLen) > len(raw) {
			return nil, fmt.Errorf("btcp2p: tx input %d script truncated", i)
		}
		scriptSig := append([]byte(nil), raw[off:off+int(scriptLen)]...)
		off += int(scriptLen)

		if off+4 > len(raw) {
			return nil, fmt.Errorf("btcp2p: tx input %d sequence truncated", i)
		}
		sequence := binary.LittleEndian.Uint32(raw[off : off+4])
		off += 4

		inputs = append(inputs, TxIn{
			PrevTxid:  prevTxid,
			PrevIndex: prevIndex,
			ScriptSig: scriptSig,
			Sequence:  sequence,
		})
	}

	numOut, n, err := util.ReadVarInt(raw[off:])
	if err != nil {
		return nil, fmt.Errorf("btcp2p: tx output count: %w", err)
	}
	off += n

	outputs := make([]TxOut, 0, numOut)
	for i := uint64(0); i < numOut; i++ {
		if off+8 > len(raw) {
			return nil, fmt.Errorf("btcp2p: tx output %d truncated", i)
		}
		value := int64(binary.LittleEndian.Uint64(raw[off : off+8]))
		off += 8

		scriptLen, n, err := util.ReadVarInt(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("btcp2p: tx output %d script length: %w", i, err)
		}
		off += n
		if off+int(scriptLen) > len(raw) {
			return nil, fmt.Errorf("btcp2p: tx output %d script truncated", i)
		}
		pkScript := append([]byte(nil), raw[off:off+int(scriptLen)]...)
		off += int(scriptLen)

		outputs = append(outputs, TxOut{Value: value, PkScript: pkScript})
	}

	strippedEnd := off // witness data lies after outputs; the 2 marker/flag bytes are counted here and subtracted below

	if segwit {
		for i := range inputs {
			numWit, n, err := util.ReadVarInt(raw[off:])
			if err != nil {
				return nil, fmt.Errorf("btcp2p: tx input %d witness count: %w", i, err)
			}
			off += n
			witness := make([][]byte, 0, numWit)
			for w := uint64(0); w < numWit; w++ {
				itemLen, n, err := util.ReadVarInt(raw[off:])
				if err != nil {
					return nil, fmt.Errorf("btcp2p: tx input %d witness item %d length: %w", i, w, err)
				}
				off += n
				if off+int(itemLen) > len(raw) {
					return nil, fmt.Errorf("btcp2p: tx input %d witness item %d truncated", i, w)
				}
				witness = append(witness, append([]byte(nil), raw[off:off+int(itemLen)]...))
				off += int(itemLen)
			}
			inputs[i].Witness = witness
		}
	}

	if off+4 > len(raw) {
		return nil, fmt.Errorf("btcp2p: tx locktime truncated")
	}
	lockTime := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4

	// strippedSize is version + inputs + outputs + locktime, excluding
	// the 2-byte marker/flag and any witness stacks.
	strippedSize := strippedEnd + 4
	if segwit {
		strippedSize = strippedEnd + 4 - 2
	}

	return &Transaction{
		Version:      version,
		Inputs:       inputs,
		Outputs:      outputs,
		LockTime:     lockTime,
		Segwit:       segwit,
		StrippedSize: strippedSize,
		TotalSize:    off,
	}, nil
}
