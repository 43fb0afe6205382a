// Package conflict implements the pure resolution function applied when a
// local record and the server's version of it have diverged. It performs
// no I/O; the sync engine and the facade decide what to do with its output.
package conflict

import (
	"fmt"
	"time"

	"github.com/offlinehq/crmsync/internal/store"
)

// Strategy is the closed set of resolution policies.
type Strategy string

const (
	ClientWins Strategy = "client_wins"
	ServerWins Strategy = "server_wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// DefaultStrategy applies when a collection has no configured strategy.
const DefaultStrategy = Merge

// ParseStrategy validates a strategy name from config or metadata.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ClientWins, ServerWins, Merge, Manual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolve maps a conflict and a strategy to a resolved field set.
// The second return is false when no automatic resolution is possible
// (manual strategy): the conflict must stay pending until an operator acts.
// Inputs are never mutated.
func Resolve(c *store.ConflictRecord, s Strategy) (map[string]any, bool) {
	switch s {
	case ClientWins:
		return clone(c.LocalData), true
	case ServerWins:
		return clone(c.ServerData), true
	case Merge:
		return merge(c.LocalData, c.ServerData), true
	default:
		return nil, false
	}
}

// serverAuthoritative fields are never taken from the local side in a merge.
var serverAuthoritative = map[string]bool{
	"id":        true,
	"createdAt": true,
}

// merge starts from the server version and, per field, takes the value from
// whichever side was modified more recently. When either side's timestamp
// is missing or unparsable the rule degrades deterministically: keep the
// non-empty side, and when both are non-empty prefer the server.
func merge(local, server map[string]any) map[string]any {
	out := clone(server)

	localTime, localOK := modifiedAt(local)
	serverTime, serverOK := modifiedAt(server)
	timesComparable := localOK && serverOK

	for key, localVal := range local {
		if serverAuthoritative[key] {
			continue
		}
		serverVal, present := server[key]
		if !present {
			out[key] = localVal
			continue
		}
		if timesComparable {
			if localTime.After(serverTime) {
				out[key] = localVal
			}
			continue
		}
		// Timestamp fallback: non-empty side wins, server wins a tie.
		if isEmpty(serverVal) && !isEmpty(localVal) {
			out[key] = localVal
		}
	}
	return out
}

// modifiedAt extracts the modification timestamp of a version, checking
// lastModified first and updatedAt second. JSON decoding yields either an
// RFC 3339 string or an epoch-milliseconds number.
func modifiedAt(data map[string]any) (time.Time, bool) {
	for _, key := range []string{"lastModified", "updatedAt"} {
		raw, ok := data[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
		case float64:
			return time.UnixMilli(int64(v)), true
		case int64:
			return time.UnixMilli(v), true
		case time.Time:
			return v, true
		}
	}
	return time.Time{}, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
