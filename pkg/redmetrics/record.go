package redmetrics

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/redmetrics/redmetrics-go/pkg/types"
)

// Record is a free-form event or snapshot.
type Record = types.Record

// PlayerInfo holds the attributes of the current player. A "customData"
// entry may hold any JSON-encodable value.
type PlayerInfo = types.PlayerInfo

// prepareRecord copies rec, canonicalizes its section and stamps userTime.
// The caller's map is never modified.
func prepareRecord(rec Record, now time.Time) Record {
	out := make(Record, len(rec)+3)
	maps.Copy(out, rec)

	if v, ok := out[types.FieldSection]; ok {
		if v == nil {
			delete(out, types.FieldSection)
		} else {
			out[types.FieldSection] = canonicalSection(v)
		}
	}
	out[types.FieldUserTime] = now.UTC().Format(types.UserTimeLayout)
	return out
}

// canonicalSection joins a sequence of path components with ".". Any other
// value is rendered as a string so the section is never an array on the wire.
func canonicalSection(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []string:
		return strings.Join(s, ".")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return strings.Join(parts, ".")
	default:
		return fmt.Sprint(v)
	}
}

// stampSession adds the game version and player id to every record.
func stampSession(recs []Record, gameVersion, playerID string) {
	for _, r := range recs {
		r[types.FieldGameVersion] = gameVersion
		r[types.FieldPlayer] = playerID
	}
}

func clonePlayer(p PlayerInfo) PlayerInfo {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// mergePlayer overlays src onto a copy of dst.
func mergePlayer(dst, src PlayerInfo) PlayerInfo {
	out := make(PlayerInfo, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}

// wirePlayer returns the body sent to the collector for p. The collector
// stores customData as a string, so a structured value is JSON-encoded; the
// local copy keeps the original value.
func wirePlayer(p PlayerInfo) (PlayerInfo, error) {
	out := clonePlayer(p)
	if out == nil {
		return PlayerInfo{}, nil
	}
	cd, ok := out[types.FieldCustomData]
	if !ok {
		return out, nil
	}
	if _, isString := cd.(string); isString {
		return out, nil
	}
	data, err := json.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("encode customData: %w", err)
	}
	out[types.FieldCustomData] = string(data)
	return out, nil
}
