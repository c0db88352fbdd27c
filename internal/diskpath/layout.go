package diskpath

import (
	"fmt"
	"strings"
)

// Reserved file names. Everything starting with MetadataPrefix or ending in
// MetadataExt is bookkeeping, never a photo.
const (
	MetadataPrefix = "_"
	MetadataExt    = ".json"

	RegionIndexFile = "_region.json"
	CarMetadataFile = "_car.json"
	LinksFile       = "_links.json"
	PhotoIndexFile  = "_index.json"
	SlotSummaryFile = "_summary.json"
	LockFile        = "_lock.json"
	DirtyFile       = "_dirty.json"
)

// IsMetadataName reports whether a file name in a slot folder is bookkeeping
// rather than a photo.
func IsMetadataName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(name, MetadataPrefix) ||
		strings.HasSuffix(lower, MetadataExt) ||
		strings.HasSuffix(lower, ".tmp")
}

// SlotType is one of the three fixed photo categories of a car.
type SlotType string

const (
	SlotPrimary   SlotType = "primary"
	SlotSecondary SlotType = "secondary"
	SlotFiller    SlotType = "filler"
)

// SlotTypes lists the categories in catalog order.
var SlotTypes = []SlotType{SlotPrimary, SlotSecondary, SlotFiller}

// SlotsPerCar is the size of every car's slot catalog.
const SlotsPerCar = 14

type slotSpec struct {
	count    int
	category string
	label    string
}

var slotSpecs = map[SlotType]slotSpec{
	SlotPrimary:   {count: 1, category: "1. Primary", label: "Primary"},
	SlotSecondary: {count: 8, category: "2. Secondary", label: "Secondary"},
	SlotFiller:    {count: 5, category: "3. Filler", label: "Filler"},
}

// ParseSlotType accepts a slot type name case-insensitively.
func ParseSlotType(s string) (SlotType, error) {
	t := SlotType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := slotSpecs[t]; !ok {
		return "", fmt.Errorf("unknown slot type %q", s)
	}
	return t, nil
}

// Count returns how many slots of this type a car has.
func (t SlotType) Count() int {
	return slotSpecs[t].count
}

// ValidIndex reports whether index is within the fixed range for t (1-based).
func (t SlotType) ValidIndex(index int) bool {
	spec, ok := slotSpecs[t]
	return ok && index >= 1 && index <= spec.count
}

// SlotRef identifies one slot of a car and its folder.
type SlotRef struct {
	Type  SlotType `json:"type"`
	Index int      `json:"index"`
	Path  string   `json:"path"`
}

// Layout derives canonical paths from identifying fields. It holds no
// state beyond the configured base folder and archive region name.
type Layout struct {
	base          string
	archiveRegion string
}

// NewLayout validates the base folder and archive region name.
func NewLayout(base, archiveRegion string) (Layout, error) {
	b, err := AssertValid(base, StageStore)
	if err != nil {
		return Layout{}, fmt.Errorf("base path: %w", err)
	}
	ar := NormalizeRegion(archiveRegion)
	if ar == "" {
		return Layout{}, fmt.Errorf("archive region name is empty")
	}
	return Layout{base: b, archiveRegion: ar}, nil
}

// Base returns the canonical base folder.
func (l Layout) Base() string { return l.base }

// ArchiveRegion returns the reserved region that holds archived cars.
func (l Layout) ArchiveRegion() string { return l.archiveRegion }

// NormalizeRegion uppercases and sanitizes a region code.
func NormalizeRegion(region string) string {
	return strings.ToUpper(SanitizeSegment(collapseSpaces(region)))
}

// RegionRoot returns {base}/{REGION}.
func (l Layout) RegionRoot(region string) (string, error) {
	r := NormalizeRegion(region)
	if r == "" {
		return "", &PathError{Stage: StageStore, Path: region, Reason: "empty region"}
	}
	return Join(l.base, r), nil
}

// CarFolderName returns the sanitized "MAKE MODEL VIN" folder name.
func CarFolderName(carMake, model, vin string) string {
	parts := nonEmpty(collapseSpaces(carMake), collapseSpaces(model), strings.ToUpper(strings.TrimSpace(vin)))
	return SanitizeSegment(strings.Join(parts, " "))
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CarRoot returns {base}/{REGION}/{MAKE MODEL VIN}.
func (l Layout) CarRoot(region, carMake, model, vin string) (string, error) {
	root, err := l.RegionRoot(region)
	if err != nil {
		return "", err
	}
	name := CarFolderName(carMake, model, vin)
	if name == "" {
		return "", &PathError{Stage: StageStore, Path: vin, Reason: "empty car folder name"}
	}
	return AssertValid(Join(root, name), StageStore)
}

// SlotPath returns the folder of one slot below a car root.
func SlotPath(carRoot string, t SlotType, index int) (string, error) {
	spec, ok := slotSpecs[t]
	if !ok {
		return "", fmt.Errorf("unknown slot type %q", t)
	}
	if !t.ValidIndex(index) {
		return "", fmt.Errorf("slot index %d out of range 1..%d for %s", index, spec.count, t)
	}
	return Join(carRoot, spec.category, fmt.Sprintf("%s %d", spec.label, index)), nil
}

// AllSlotPaths returns the full catalog of a car: always SlotsPerCar entries
// in catalog order, computed purely from the car root.
func AllSlotPaths(carRoot string) []SlotRef {
	refs := make([]SlotRef, 0, SlotsPerCar)
	for _, t := range SlotTypes {
		for i := 1; i <= t.Count(); i++ {
			p, _ := SlotPath(carRoot, t, i)
			refs = append(refs, SlotRef{Type: t, Index: i, Path: p})
		}
	}
	return refs
}

// GetAllSlotPaths is AllSlotPaths starting from identity fields.
func (l Layout) GetAllSlotPaths(region, carMake, model, vin string) ([]SlotRef, error) {
	root, err := l.CarRoot(region, carMake, model, vin)
	if err != nil {
		return nil, err
	}
	return AllSlotPaths(root), nil
}

// VINLength is the fixed length of a vehicle identification number.
const VINLength = 17

// NormalizeVIN uppercases a VIN and checks its length and alphabet. The
// letters I, O and Q never appear in a VIN.
func NormalizeVIN(vin string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(vin))
	if len(v) != VINLength {
		return "", fmt.Errorf("VIN must be %d characters, got %d", VINLength, len(v))
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z' && r != 'I' && r != 'O' && r != 'Q':
		default:
			return "", fmt.Errorf("VIN contains invalid character %q", r)
		}
	}
	return v, nil
}

// multiWordMakes are makes with a space in their name. A folder name has no
// separator between make and model, so these are recognized by prefix.
var multiWordMakes = [][2]string{
	{"Alfa", "Romeo"},
	{"Aston", "Martin"},
	{"Land", "Rover"},
	{"Mercedes", "Benz"},
	{"Rolls", "Royce"},
}

// ParseCarFolderName splits a "MAKE MODEL VIN" folder name back into its
// fields. The VIN is the last word and the make the first, or the first two
// for a known multi-word make; the model is whatever lies between (possibly
// empty). Any other multi-word make is split wrongly, so callers prefer a
// recorded make and model when they have one.
func ParseCarFolderName(name string) (carMake, model, vin string, ok bool) {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return "", "", "", false
	}
	v, err := NormalizeVIN(fields[len(fields)-1])
	if err != nil {
		return "", "", "", false
	}
	words := fields[:len(fields)-1]
	n := 1
	for _, mk := range multiWordMakes {
		if len(words) >= 2 && strings.EqualFold(words[0], mk[0]) && strings.EqualFold(words[1], mk[1]) {
			n = 2
			break
		}
	}
	return strings.Join(words[:n], " "), strings.Join(words[n:], " "), v, true
}
