package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// FallbackOwnerLayout formats the owner label of an unnamed export.
const FallbackOwnerLayout = "Unnamed export 2006-01-02 15:04"

// MaxDealValue is the largest deal value kept; larger values are treated as missing.
const MaxDealValue = 1_000_000_000_000

// maxCount bounds integer fields such as targets.
const maxCount = math.MaxInt32

// Snapshot is the fully typed form of one uploaded export.
type Snapshot struct {
	Source     string
	Owner      string
	ExportedAt time.Time
	WeekStart  *time.Time
	Targets    Targets
	Activities []SnapshotActivity
	Archived   []SnapshotActivity
	Prospects  []SnapshotProspect
	// Dropped counts activities whose type was not recognised.
	Dropped int
	Raw     []byte
}

// SnapshotActivity is a parsed entry of activities or archivedActivities.
type SnapshotActivity struct {
	Type      ActivityType
	Name      string
	Notes     string
	Timestamp time.Time
	WeekOf    *time.Time
}

// SnapshotProspect is a parsed entry of prospects.
type SnapshotProspect struct {
	Company   string
	Contact   string
	Email     string
	Phone     string
	Stage     Stage
	DealValue float64
	CreatedAt time.Time
	LastTouch time.Time
	WonAt     *time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseSnapshot validates raw and fills every optional field with its default.
// Only unparseable JSON or a null document is rejected; any other non-object
// top level parses as an empty export.
func ParseSnapshot(source string, raw []byte, now time.Time) (Snapshot, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		return Snapshot{}, &MalformedSnapshotError{Source: source, Err: err}
	}

	now = now.UTC()
	snap := Snapshot{
		Source:  source,
		Raw:     append([]byte(nil), raw...),
		Targets: parseTargets(doc["targets"]),
	}

	snap.Owner = firstString(doc, "userName", "exportedBy", "name")
	if snap.Owner == "" {
		snap.Owner = now.Format(FallbackOwnerLayout)
	}

	snap.ExportedAt = now
	if ts, ok := parseTime(doc["exportedAt"]); ok {
		snap.ExportedAt = ts
	}
	if ws, ok := parseTime(doc["currentWeekStart"]); ok {
		snap.WeekStart = &ws
	}

	for _, item := range objects(doc["activities"]) {
		activity, ok := parseActivity(item, snap.ExportedAt, false)
		if !ok {
			snap.Dropped++
			continue
		}
		snap.Activities = append(snap.Activities, activity)
	}
	for _, item := range objects(doc["archivedActivities"]) {
		activity, ok := parseActivity(item, snap.ExportedAt, true)
		if !ok {
			snap.Dropped++
			continue
		}
		snap.Archived = append(snap.Archived, activity)
	}
	for _, item := range objects(doc["prospects"]) {
		snap.Prospects = append(snap.Prospects, parseProspect(item, snap.ExportedAt))
	}

	return snap, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}

	switch doc := value.(type) {
	case map[string]any:
		return doc, nil
	case nil:
		return nil, errors.New("document is null")
	default:
		// Arrays and scalars carry no fields; every field takes its default.
		return map[string]any{}, nil
	}
}

func parseActivity(item map[string]any, exportedAt time.Time, archived bool) (SnapshotActivity, bool) {
	typeName, _ := item["type"].(string)
	activityType, ok := ParseActivityType(typeName)
	if !ok {
		return SnapshotActivity{}, false
	}

	activity := SnapshotActivity{
		Type:      activityType,
		Name:      stringValue(item["name"]),
		Notes:     stringValue(item["notes"]),
		Timestamp: exportedAt,
	}
	if ts, ok := parseTime(item["timestamp"]); ok {
		activity.Timestamp = ts
	}
	if archived {
		week, ok := parseTime(item["weekOf"])
		if !ok {
			week = WeekStart(activity.Timestamp)
		}
		activity.WeekOf = &week
	}
	return activity, true
}

func parseProspect(item map[string]any, exportedAt time.Time) SnapshotProspect {
	prospect := SnapshotProspect{
		Company:   stringValue(item["company"]),
		Contact:   stringValue(item["contact"]),
		Email:     stringValue(item["email"]),
		Phone:     stringValue(item["phone"]),
		Stage:     ParseStage(stringValue(item["stage"])),
		DealValue: dealValue(item["dealValue"]),
		CreatedAt: exportedAt,
	}
	if ts, ok := parseTime(item["createdAt"]); ok {
		prospect.CreatedAt = ts
	}
	prospect.LastTouch = prospect.CreatedAt
	if ts, ok := parseTime(item["lastTouch"]); ok {
		prospect.LastTouch = ts
	}
	if prospect.Stage == StageWon {
		wonAt := prospect.LastTouch
		if ts, ok := parseTime(item["wonAt"]); ok {
			wonAt = ts
		}
		prospect.WonAt = &wonAt
	}
	return prospect
}

func parseTargets(v any) Targets {
	targets := DefaultTargets()
	m, ok := v.(map[string]any)
	if !ok {
		return targets
	}
	counts := ActivityCounts(targets)
	for _, t := range ActivityTypes {
		if n, ok := intValue(m[string(t)]); ok && n >= 0 {
			counts.Add(t, n-counts.Get(t))
		}
	}
	return Targets(counts)
}

func objects(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := doc[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	}
	return ""
}

func intValue(v any) (int, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return boundedCount(n)
		}
		if f, err := val.Float64(); err == nil && f >= -maxCount && f <= maxCount {
			return int(f), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return boundedCount(n)
		}
	}
	return 0, false
}

func boundedCount(n int64) (int, bool) {
	if n < -maxCount || n > maxCount {
		return 0, false
	}
	return int(n), true
}

func dealValue(v any) float64 {
	var f float64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > MaxDealValue {
		return 0
	}
	return roundCents(f)
}

func parseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return storableTime(ts)
			}
		}
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return storableTime(time.UnixMilli(ms))
		}
	}
	return time.Time{}, false
}

// storableTime rejects instants outside years 1-9999 in UTC, which the
// stores cannot round-trip.
func storableTime(ts time.Time) (time.Time, bool) {
	ts = ts.UTC()
	if y := ts.Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return ts, true
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
