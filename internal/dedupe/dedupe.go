package dedupe

import "pinscout/internal/models"

// Dedupe keeps the first record seen for each pin ID, in input order.
func Dedupe(records []models.Record) []models.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.PinID]; ok {
			continue
		}
		seen[r.PinID] = struct{}{}
		out = append(out, r)
	}
	return out
}
