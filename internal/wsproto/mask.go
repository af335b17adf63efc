package wsproto

import "crypto/rand"

// maskKeySource returns 4 cryptographically random bytes for a new
// client->server frame's masking key, per RFC 6455 §5.3.
func maskKeySource() []byte {
	key := make([]byte, 4)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// broken; there is no sane fallback at that point.
		panic("wsproto: crypto/rand unavailable: " + err.Error())
	}
	return key
}
