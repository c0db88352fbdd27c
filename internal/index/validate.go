package index

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Result is the outcome of validating one document. Validation never
// fails with an error; a document is either OK or has Problems.
type Result struct {
	OK       bool
	Problems []string
}

func (r Result) String() string {
	if r.OK {
		return "ok"
	}
	return strings.Join(r.Problems, "; ")
}

func invalid(problems ...string) Result {
	return Result{Problems: problems}
}

type fieldType int

const (
	tString fieldType = iota
	tNumber
	tBool
	tArray
	tTime // non-empty ISO-8601 string
)

func (t fieldType) String() string {
	switch t {
	case tString:
		return "string"
	case tNumber:
		return "number"
	case tBool:
		return "boolean"
	case tArray:
		return "array"
	case tTime:
		return "timestamp"
	default:
		return "unknown"
	}
}

type field struct {
	name     string
	typ      fieldType
	optional bool
}

var schemas = map[Kind][]field{
	KindRegion: {
		{name: "region", typ: tString},
		{name: "updated_at", typ: tTime},
		{name: "cars", typ: tArray},
	},
	KindCar: {
		{name: "region", typ: tString},
		{name: "make", typ: tString},
		{name: "model", typ: tString},
		{name: "vin", typ: tString},
		{name: "created_at", typ: tTime},
		{name: "created_by", typ: tString},
		{name: "deleted", typ: tBool, optional: true},
		{name: "deleted_at", typ: tTime, optional: true},
		{name: "deleted_by", typ: tString, optional: true},
		{name: "archived_from", typ: tString, optional: true},
	},
	KindPhotos: {
		{name: "updated_at", typ: tTime},
		{name: "count", typ: tNumber},
		{name: "limit", typ: tNumber},
		{name: "cover", typ: tString, optional: true},
		{name: "used", typ: tBool, optional: true},
		{name: "public_url", typ: tString, optional: true},
		{name: "items", typ: tArray},
	},
	KindSummary: {
		{name: "updated_at", typ: tTime},
		{name: "count", typ: tNumber},
		{name: "cover", typ: tString, optional: true},
		{name: "total_size", typ: tNumber},
		{name: "used", typ: tBool, optional: true},
		{name: "public_url", typ: tString, optional: true},
	},
	KindLock: {
		{name: "holder", typ: tString},
		{name: "operation", typ: tString},
		{name: "acquired_at", typ: tTime},
		{name: "expires_at", typ: tTime},
		{name: "count", typ: tNumber, optional: true},
		{name: "total_size", typ: tNumber, optional: true},
	},
	KindDirty: {
		{name: "marked_at", typ: tTime},
		{name: "reason", typ: tString},
		{name: "files", typ: tArray, optional: true},
	},
	KindLinks: {
		{name: "updated_at", typ: tTime},
		{name: "links", typ: tArray},
	},
}

var semanticChecks = map[Kind]func(doc map[string]any) []string{
	KindRegion: checkRegion,
	KindCar:    checkCar,
	KindPhotos: checkPhotos,
	KindLinks:  checkLinks,
}

// Validate checks that data is a structurally sound document of kind:
// well-formed JSON, version >= 1, a matching kind tag when present, every
// required field present with the right type, and the per-kind invariants.
func Validate(kind Kind, data []byte) Result {
	fields, ok := schemas[kind]
	if !ok {
		return invalid(fmt.Sprintf("unknown document kind %q", kind))
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalid(fmt.Sprintf("malformed JSON: %v", err))
	}
	if doc == nil {
		return invalid("document is not an object")
	}

	var problems []string

	if v, ok := doc["kind"]; ok {
		if s, isStr := v.(string); !isStr || Kind(s) != kind {
			problems = append(problems, fmt.Sprintf("kind is %v, want %s", v, kind))
		}
	}

	version, ok := integer(doc["version"])
	switch {
	case !ok:
		problems = append(problems, "version: missing or not an integer")
	case version < 1:
		problems = append(problems, fmt.Sprintf("version %d < 1", version))
	}

	for _, f := range fields {
		v, present := doc[f.name]
		if !present || v == nil {
			if !f.optional {
				problems = append(problems, f.name+": missing")
			}
			continue
		}
		if p := checkType(f, v); p != "" {
			problems = append(problems, p)
		}
	}

	// Invariants are only meaningful once the shape is right.
	if len(problems) == 0 {
		if check := semanticChecks[kind]; check != nil {
			problems = append(problems, check(doc)...)
		}
	}

	if len(problems) > 0 {
		return Result{Problems: problems}
	}
	return Result{OK: true}
}

func checkType(f field, v any) string {
	ok := false
	switch f.typ {
	case tString:
		_, ok = v.(string)
	case tNumber:
		_, ok = v.(float64)
	case tBool:
		_, ok = v.(bool)
	case tArray:
		_, ok = v.([]any)
	case tTime:
		s, isStr := v.(string)
		if !isStr || s == "" {
			return f.name + ": want non-empty timestamp"
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Sprintf("%s: %q is not an ISO-8601 timestamp", f.name, s)
		}
		return ""
	}
	if !ok {
		return fmt.Sprintf("%s: want %s, got %T", f.name, f.typ, v)
	}
	return ""
}

func integer(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func checkRegion(doc map[string]any) []string {
	var problems []string
	for i, c := range doc["cars"].([]any) {
		car, ok := c.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("cars[%d]: not an object", i))
			continue
		}
		for _, name := range []string{"vin", "folder"} {
			if s, ok := car[name].(string); !ok || s == "" {
				problems = append(problems, fmt.Sprintf("cars[%d].%s: missing", i, name))
			}
		}
	}
	return problems
}

func checkCar(doc map[string]any) []string {
	if vin := doc["vin"].(string); strings.TrimSpace(vin) == "" {
		return []string{"vin: empty"}
	}
	return nil
}

func checkPhotos(doc map[string]any) []string {
	var problems []string
	items := doc["items"].([]any)

	count, ok := integer(doc["count"])
	if !ok {
		problems = append(problems, "count: not an integer")
	} else if count != len(items) {
		problems = append(problems, fmt.Sprintf("count %d != len(items) %d", count, len(items)))
	}

	limit, ok := integer(doc["limit"])
	if !ok || limit != PhotoLimit {
		problems = append(problems, fmt.Sprintf("limit %v != %d", doc["limit"], PhotoLimit))
	}
	if ok && count > limit {
		problems = append(problems, fmt.Sprintf("count %d exceeds limit %d", count, limit))
	}

	seen := make(map[string]bool, len(items))
	for i, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("items[%d]: not an object", i))
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			problems = append(problems, fmt.Sprintf("items[%d].name: missing", i))
		} else if seen[name] {
			problems = append(problems, fmt.Sprintf("items[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		if size, ok := item["size"].(float64); !ok || size < 0 {
			problems = append(problems, fmt.Sprintf("items[%d].size: want non-negative number", i))
		}
		if p := checkType(field{name: fmt.Sprintf("items[%d].modified", i), typ: tTime}, item["modified"]); p != "" {
			problems = append(problems, p)
		}
	}
	return problems
}

func checkLinks(doc map[string]any) []string {
	var problems []string
	for i, l := range doc["links"].([]any) {
		link, ok := l.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("links[%d]: not an object", i))
			continue
		}
		for _, name := range []string{"id", "label", "url"} {
			if s, ok := link[name].(string); !ok || s == "" {
				problems = append(problems, fmt.Sprintf("links[%d].%s: missing", i, name))
			}
		}
	}
	return problems
}
