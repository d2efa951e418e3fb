// Package ident generates identifiers for sessions and clients
package ident

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// now is a seam for tests
var now = time.Now

func init() {
	// The global source of x/exp/rand is deterministic unless seeded
	rand.Seed(uint64(time.Now().UnixNano()))
}

// SessionID in the form client_<unix millis>_<9 random base36 chars>
func SessionID() string {
	var sb strings.Builder
	sb.WriteString("client_")
	sb.WriteString(strconv.FormatInt(now().UnixMilli(), 10))
	sb.WriteByte('_')
	for range 9 {
		sb.WriteByte(base36[rand.Intn(len(base36))])
	}
	return sb.String()
}

// ClientID is 16 random bytes, hex encoded and grouped like a uuid
func ClientID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	h := hex.EncodeToString(b)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
