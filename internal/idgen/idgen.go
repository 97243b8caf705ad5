// Package idgen mints the random identifiers the settlement engine hands out:
// invocation ids, webhook subscription and delivery ids, escrow tags, request
// ids and signing secrets.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes of the ids that leave the process. They make an id's kind visible
// in logs and webhook payloads.
const (
	PrefixInvocation   = "inv_"
	PrefixSubscription = "wh_"
	PrefixDelivery     = "evt_"
)

// tagBytes matches the 32-byte escrow id and memo.
const tagBytes = 32

// Invocation returns the id shared by every event of one host invocation.
func Invocation() string { return PrefixInvocation + Hex(12) }

// Subscription returns a webhook subscription id.
func Subscription() string { return PrefixSubscription + Hex(12) }

// Delivery returns the id of one webhook delivery.
func Delivery() string { return PrefixDelivery + Hex(12) }

// Tag returns 64 hex chars, the text form of a fresh escrow id.
func Tag() string { return Hex(tagBytes) }

// Secret returns a webhook signing secret.
func Secret() string { return Hex(32) }

// RequestID returns an id for a request that arrived without X-Request-ID.
func RequestID() string { return Hex(16) }

// Hex returns numBytes random bytes, hex encoded. It panics if the system
// randomness source fails, since no id can be issued safely after that.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
