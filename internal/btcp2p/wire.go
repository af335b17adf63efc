// Package btcp2p implements a single-peer Bitcoin P2P client: the
// version/verack handshake, ping/pong liveness, and the inv/getdata/tx
// flow used to mirror the network mempool (spec.md §4.6). It has no
// teacher counterpart — the teacher speaks GossipSub over libp2p for
// p2pool's consensus layer, not the raw wire protocol a single full-node
// peer connection requires — so the wire types below are built directly
// from spec.md and the Bitcoin wire protocol they describe.
package btcp2p

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
	"github.com/djkazic/stratum-engine/pkg/util"
)

// Magic values for the networks spec.md §4.6 names.
var (
	MagicMainnet = [4]byte{0xf9, 0xbe, 0xb4, 0xd9}
	MagicTestnet = [4]byte{0x0b, 0x11, 0x09, 0x07}
)

// ProtocolVersion is the version number advertised in our version
// message.
const ProtocolVersion = 70016

// Services bit for NODE_NONE — this client does not relay or serve
// blocks, it only observes.
const ServicesNone = 0

// EncodeMessage wraps a command+payload in the 24-byte header framing
// (magic/command/length/checksum) that internal/framer.ParseBitcoinMessage
// recognizes on the read side.
func EncodeMessage(magic [4]byte, command string, payload []byte) []byte {
	out := make([]byte, 24+len(payload))
	copy(out[0:4], magic[:])
	copy(out[4:16], command)
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	digest := hashkernel.Sha256d(payload)
	copy(out[20:24], digest[:4])
	copy(out[24:], payload)
	return out
}

// VersionMessage is the payload of the "version" command.
type VersionMessage struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	AddrRecvSvc uint64
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

// EncodeVersion serializes a VersionMessage payload.
func EncodeVersion(v VersionMessage) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, v.Version)
	writeUint64(&buf, v.Services)
	writeInt64(&buf, v.Timestamp)

	// addr_recv: services(8) + ip(16) + port(2), we are not a listener so
	// this is all-zero except services.
	writeUint64(&buf, v.AddrRecvSvc)
	buf.Write(make([]byte, 16))
	buf.Write(make([]byte, 2))

	// addr_from: same shape, all-zero.
	writeUint64(&buf, 0)
	buf.Write(make([]byte, 16))
	buf.Write(make([]byte, 2))

	writeUint64(&buf, v.Nonce)
	buf.Write(util.WriteVarInt(uint64(len(v.UserAgent))))
	buf.WriteString(v.UserAgent)
	writeInt32(&buf, v.StartHeight)
	if v.Relay {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeVersion parses a "version" payload.
func DecodeVersion(payload []byte) (VersionMessage, error) {
	r := bytes.NewReader(payload)
	var v VersionMessage
	var err error
	if v.Version, err = readInt32(r); err != nil {
		return v, err
	}
	if v.Services, err = readUint64(r); err != nil {
		return v, err
	}
	if v.Timestamp, err = readInt64(r); err != nil {
		return v, err
	}
	if v.AddrRecvSvc, err = readUint64(r); err != nil {
		return v, err
	}
	if _, err = readDiscard(r, 18); err != nil { // addr_recv ip(16)+port(2)
		return v, err
	}
	if _, err = readDiscard(r, 26); err != nil { // addr_from services(8)+ip(16)+port(2)
		return v, err
	}
	var nonce uint64
	if nonce, err = readUint64(r); err != nil {
		return v, err
	}
	v.Nonce = nonce

	uaLen, err := readVarIntFrom(r)
	if err != nil {
		return v, err
	}
	ua := make([]byte, uaLen)
	if uaLen > 0 {
		if _, err = r.Read(ua); err != nil {
			return v, fmt.Errorf("btcp2p: read user agent: %w", err)
		}
	}
	v.UserAgent = string(ua)

	if v.StartHeight, err = readInt32(r); err != nil {
		return v, err
	}
	relayByte, err := r.ReadByte()
	if err == nil {
		v.Relay = relayByte != 0
	}
	return v, nil
}

func readDiscard(r *bytes.Reader, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	buf := make([]byte, n)
	return io_readFull(r, buf)
}

func readVarIntFrom(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case first < 0xfd:
		return uint64(first), nil
	case first == 0xfd:
		b := make([]byte, 2)
		if _, err := io_readFull(r, b); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case first == 0xfe:
		b := make([]byte, 4)
		if _, err := io_readFull(r, b); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		b := make([]byte, 8)
		if _, err := io_readFull(r, b); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	}
}

// InvVector identifies one inventory item (spec.md §4.6 inv/getdata).
type InvVector struct {
	Type uint32
	Hash [32]byte
}

const (
	InvTypeError uint32 = 0
	InvTypeTx    uint32 = 1
	InvTypeBlock uint32 = 2
)

// EncodeInv serializes an "inv" or "getdata" payload.
func EncodeInv(items []InvVector) []byte {
	var buf bytes.Buffer
	buf.Write(util.WriteVarInt(uint64(len(items))))
	for _, it := range items {
		writeUint32(&buf, it.Type)
		buf.Write(it.Hash[:])
	}
	return buf.Bytes()
}

// DecodeInv parses an "inv" or "getdata" payload.
func DecodeInv(payload []byte) ([]InvVector, error) {
	count, n, err := util.ReadVarInt(payload)
	if err != nil {
		return nil, fmt.Errorf("btcp2p: decode inv count: %w", err)
	}
	payload = payload[n:]

	items := make([]InvVector, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(payload) < 36 {
			return nil, fmt.Errorf("btcp2p: truncated inv vector at %d", i)
		}
		var it InvVector
		it.Type = binary.LittleEndian.Uint32(payload[0:4])
		copy(it.Hash[:], payload[4:36])
		items = append(items, it)
		payload = payload[36:]
	}
	return items, nil
}

// PingPongPayload encodes the 8-byte nonce used by "ping"/"pong".
func PingPongPayload(nonce uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, nonce)
	return b
}

func writeInt32(buf *bytes.Buffer, v int32)   { writeUint32(buf, uint32(v)) }
func writeUint32(buf *bytes.Buffer, v uint32) { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); buf.Write(b) }
func writeInt64(buf *bytes.Buffer, v int64)   { writeUint64(buf, uint64(v)) }
func writeUint64(buf *bytes.Buffer, v uint64) { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); buf.Write(b) }

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}
func readUint32(r *bytes.Reader) (uint32, error) {
	b := make([]byte, 4)
	if _, err := io_readFull(r, b); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}
func readUint64(r *bytes.Reader) (uint64, error) {
	b := make([]byte, 8)
	if _, err := io_readFull(r, b); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func io_readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("btcp2p: short read: got %d want %d", n, len(b))
	}
	return n, nil
}
