package mempool

import "github.com/klauspost/compress/zstd"

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<24))
)

// Compress zstd-compresses raw transaction bytes for storage in an
// Entry.
func Compress(raw []byte) []byte {
	return zstdEncoder.EncodeAll(raw, nil)
}

// Decompress reverses Compress. Data not carrying the zstd magic bytes
// is returned unchanged, for forward compatibility with entries stored
// before compression was enabled.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
