package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePurchaseID computes a deterministic purchase ID using SHA256.
// Formula: SHA256(wallet|round_id|timestamp_ms|usd_micro)
// Returns hex-encoded hash (64 characters).
func ComputePurchaseID(wallet string, roundID string, timestampMs int64, usdMicro int64) string {
	data := fmt.Sprintf("%s|%s|%d|%d", wallet, roundID, timestampMs, usdMicro)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeUnlockEventID computes a deterministic vesting unlock event ID.
// Formula: SHA256(purchase_id|month)
func ComputeUnlockEventID(purchaseID string, month int) string {
	data := fmt.Sprintf("%s|%d", purchaseID, month)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
