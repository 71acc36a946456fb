package doordash

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"
)

// Prefixes for client-generated identifiers.
const (
	PrefixQuote    = "quote"
	PrefixDelivery = "delivery"
)

// NewExternalID returns prefix_<epochMillis>_<base36 suffix>. Uniqueness is
// practical rather than guaranteed: a millisecond timestamp plus ~46 random bits.
func NewExternalID(prefix string, now time.Time) string {
	return prefix + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomBase36(9)
}

func randomBase36(n int) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic("doordash: read random bytes: " + err.Error())
	}
	s := strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 36)
	for len(s) < n {
		s = "0" + s
	}
	return s[:n]
}
