package framer

import "bytes"

// ParseLine recognizes a single newline-delimited frame (Stratum v1's
// line-delimited JSON-RPC), grounded on the teacher's stratum.Codec, which
// used bufio.Scanner with a bounded buffer for the same purpose. This
// recognizer reports frame boundaries only; JSON validity is checked by
// the caller after Consume.
func ParseLine(view []byte) Result {
	if idx := bytes.IndexByte(view, '\n'); idx >= 0 {
		return frameReady(0, idx+1, "line")
	}
	return needMore(1)
}
