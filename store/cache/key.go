package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	keyPrefix = "tps"
	// maxKeyLength is the longest key stored verbatim; longer keys are hashed.
	maxKeyLength = 100
)

// Namespaces used by the dashboard read path.
const (
	NamespaceTeams       = "teams"
	NamespaceSystemStats = "system_stats"
)

// DashboardNamespace is the per-role dashboard namespace for a user.
func DashboardNamespace(role string) string {
	return "dashboard:" + role
}

// WorkloadNamespace is the workload analysis namespace for a window of days.
func WorkloadNamespace(days int) string {
	return "workload:" + strconv.Itoa(days)
}

// TeamStatsNamespace is the global namespace holding one team's workload stats.
func TeamStatsNamespace(teamID int64) string {
	return "team_stats:" + strconv.FormatInt(teamID, 10)
}

// Key addresses one cache entry. UserID 0 addresses a global entry.
type Key struct {
	UserID    int64
	Namespace string
}

// UserKey returns the key of a per-user entry.
func UserKey(userID int64, namespace string) Key {
	return Key{UserID: userID, Namespace: namespace}
}

// GlobalKey returns the key of an entry shared by all users.
func GlobalKey(namespace string) Key {
	return Key{Namespace: namespace}
}

// String renders the storage key. Per-user keys keep the user prefix even when
// the namespace is hashed so that all of a user's entries can be found by prefix.
func (k Key) String() string {
	if k.UserID == 0 {
		return MakeKey("global", k.Namespace)
	}
	prefix := userPrefix(k.UserID)
	if len(prefix)+len(k.Namespace) > maxKeyLength {
		return prefix + "h:" + hashString(k.Namespace)
	}
	return prefix + k.Namespace
}

// MakeKey joins parts under the tps prefix, hashing keys that grow too long.
func MakeKey(parts ...string) string {
	key := keyPrefix + ":" + strings.Join(parts, ":")
	if len(key) > maxKeyLength {
		return keyPrefix + ":hash:" + hashString(key)
	}
	return key
}

func userPrefix(userID int64) string {
	return fmt.Sprintf("%s:u:%d:", keyPrefix, userID)
}

func hashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
