package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeRewardTxID computes a deterministic transaction id for one staker's
// share of one distribution tick.
// Formula: SHA256("reward"|user_id|distributed_at_ms)
// Returns hex-encoded hash (64 characters).
func ComputeRewardTxID(userID string, distributedAtMs int64) string {
	data := fmt.Sprintf("reward|%s|%d", userID, distributedAtMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
