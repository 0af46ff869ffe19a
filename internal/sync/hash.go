package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sort"

	"github.com/tildaslashalef/tether/internal/element"
)

// HashLocal hashes the sync-relevant fields of an element.
// Metadata is never read, so writing sync state cannot change the hash.
func HashLocal(e *element.Element) string {
	return digest(map[string]any{
		"title":     e.Title,
		"body":      e.Body,
		"status":    string(e.Status),
		"priority":  e.Priority,
		"category":  e.Category,
		"tags":      sortedWithout(e.Tags, ConflictTag),
		"assignees": sortedWithout(e.Assignees, ""),
	})
}

// HashRemote hashes the sync-relevant fields of an external item
func HashRemote(item *ExternalItem) string {
	return digest(map[string]any{
		"title":     item.Title,
		"body":      item.Body,
		"state":     string(item.State),
		"labels":    sortedWithout(item.Labels, ""),
		"assignees": sortedWithout(item.Assignees, ""),
	})
}

// digest serializes fields canonically (encoding/json sorts map keys) and hashes them
func digest(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		// Only strings, ints and string slices are hashed
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedWithout(values []string, drop string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == drop {
			continue
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return slices.Compact(out)
}
