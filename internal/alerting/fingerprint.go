package alerting

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/modelguard/drift-engine/internal/models"
)

// Fingerprint derives the deterministic identity of an alert condition
// from (model, alert type, metric). Recurring instances of the same
// condition always hash to the same value, which is what the
// deduplication upsert keys on.
func Fingerprint(modelID string, alertType models.AlertType, metricName string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(alertType))
	h.Write([]byte{0})
	h.Write([]byte(metricName))
	return hex.EncodeToString(h.Sum(nil))
}
