package crawler

import (
	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/sirupsen/logrus"
)

// FilterFollows normalizes a fetched follow list and selects up to maxFollows entries.
// Invalid identifiers, self-follows and duplicates are dropped. maxFollows <= 0 means no cap.
func FilterFollows(source string, follows []string, maxFollows int) []string {
	seen := make(map[string]struct{}, len(follows))
	filtered := make([]string, 0, len(follows))
	invalid := 0

	for _, raw := range follows {
		id, err := account.Normalize(raw)
		if err != nil {
			invalid++
			continue
		}

		// Skip self-follows
		if id == source {
			continue
		}

		// Skip duplicates
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		filtered = append(filtered, id)

		if maxFollows > 0 && len(filtered) >= maxFollows {
			break
		}
	}

	if invalid > 0 {
		logrus.Debugf("Dropped %d malformed follows of %s", invalid, account.Short(source))
	}

	return filtered
}
