// Package ulid wraps github.com/oklog/ulid/v2 with prefixed identifiers and
// database/json integration.
//
// Identifiers take the form "<prefix>-<ulid>", e.g. "el-01HV3K8Q2Z9W7C4M5N6P7R8S9T".
// They sort by creation time, which keeps element listings and sync logs in a
// stable order without an extra column.
package ulid

import (
	"bytes"
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes used across tether
const (
	// PrefixElement identifies local elements (tasks and documents)
	PrefixElement = "el"

	// PrefixSyncLog identifies sync log entries
	PrefixSyncLog = "log"

	// PrefixSetting identifies persisted settings
	PrefixSetting = "set"

	// PrefixRun identifies a single push/pull/sync invocation
	PrefixRun = "run"

	// PrefixRequest identifies outbound provider requests in logs
	PrefixRequest = "req"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex

	// Nil is the zero ULID
	Nil = ULID{}
)

// ULID is a ulid.ULID with an optional prefix
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID for the current time
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID for the current time with a prefix
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
// Entropy is monotonic, so ids generated within the same millisecond still sort.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ULID{ULID: ulid.MustNew(ulid.Timestamp(t), entropy)}
}

// Parse parses a plain or prefixed ULID string
func Parse(id string) (ULID, error) {
	prefix, raw := split(id)
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ULID{}, fmt.Errorf("parsing ulid %q: %w", id, err)
	}
	return ULID{ULID: parsed, prefix: prefix}, nil
}

// MustParse is like Parse but panics on invalid input
func MustParse(s string) ULID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate reports whether id is a valid plain or prefixed ULID
func Validate(id string) bool {
	_, raw := split(id)
	_, err := ulid.Parse(raw)
	return err == nil
}

// HasPrefixOf reports whether id is a valid ULID carrying the given prefix
func HasPrefixOf(id, prefix string) bool {
	parsed, err := Parse(id)
	if err != nil {
		return false
	}
	return parsed.prefix == prefix
}

func split(id string) (prefix, raw string) {
	if i := strings.LastIndex(id, PrefixSeparator); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// Compare compares two ULIDs ignoring prefixes
func (u ULID) Compare(other ULID) int {
	return bytes.Compare(u.ULID[:], other.ULID[:])
}

// IsZero reports whether u is the zero value
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix, if any
func (u ULID) Prefix() string {
	return u.prefix
}

// HasPrefix reports whether the ULID carries a prefix
func (u ULID) HasPrefix() bool {
	return u.prefix != ""
}

// String returns "prefix-ulid" or the bare ULID
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// RawString returns the ULID without its prefix
func (u ULID) RawString() string {
	return u.ULID.String()
}

// Time returns the timestamp component
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// MarshalJSON implements json.Marshaler
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer; ULIDs are stored as text
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner
func (u *ULID) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ULID", src)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ElementID generates a new element id
func ElementID() string {
	return GenerateWithPrefix(PrefixElement).String()
}

// SyncLogID generates a new sync log id
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog).String()
}

// SettingID generates a new setting id
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}

// RunID generates a new sync run id
func RunID() string {
	return GenerateWithPrefix(PrefixRun).String()
}

// RequestID generates a new request id
func RequestID() string {
	return GenerateWithPrefix(PrefixRequest).String()
}
