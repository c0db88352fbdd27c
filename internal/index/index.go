// Package index defines the JSON documents stored next to the photos they
// describe, validates them, and converts them to and from bytes.
//
// Every document carries a kind and a schema version. A document that fails
// validation is treated by callers exactly like a missing one.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind discriminates the document types.
type Kind string

const (
	KindRegion  Kind = "region_index"
	KindCar     Kind = "car_metadata"
	KindPhotos  Kind = "photo_index"
	KindSummary Kind = "slot_summary"
	KindLock    Kind = "lock_marker"
	KindDirty   Kind = "dirty_marker"
	KindLinks   Kind = "link_list"
)

const (
	// SchemaVersion is written into every new document.
	SchemaVersion = 1

	// PhotoLimit is the fixed capacity of one slot.
	PhotoLimit = 40
)

// Header is embedded in every document.
type Header struct {
	Kind    Kind `json:"kind"`
	Version int  `json:"version"`
}

func (h *Header) header() *Header { return h }

// Document is implemented by every document type.
type Document interface {
	DocKind() Kind
	header() *Header
}

// CarSummary is one car as listed in a region index.
type CarSummary struct {
	VIN       string    `json:"vin"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Folder    string    `json:"folder"` // car folder name below the region root
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// RegionIndex is the cached listing of every live car in a region.
type RegionIndex struct {
	Header
	Region    string       `json:"region"`
	UpdatedAt time.Time    `json:"updated_at"`
	Cars      []CarSummary `json:"cars"`
}

func (*RegionIndex) DocKind() Kind { return KindRegion }

// Find returns the car with the given VIN.
func (r *RegionIndex) Find(vin string) (CarSummary, bool) {
	for _, c := range r.Cars {
		if c.VIN == vin {
			return c, true
		}
	}
	return CarSummary{}, false
}

// CarMetadata is stored in the car root.
type CarMetadata struct {
	Header
	Region       string    `json:"region"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	VIN          string    `json:"vin"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by"`
	Deleted      bool      `json:"deleted"`
	DeletedAt    time.Time `json:"deleted_at,omitzero"`
	DeletedBy    string    `json:"deleted_by,omitempty"`
	ArchivedFrom string    `json:"archived_from,omitempty"`
}

func (*CarMetadata) DocKind() Kind { return KindCar }

// PhotoItem is one image file in a slot.
type PhotoItem struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// PhotoIndex is the authoritative record of a slot's images.
type PhotoIndex struct {
	Header
	UpdatedAt time.Time   `json:"updated_at"`
	Count     int         `json:"count"`
	Limit     int         `json:"limit"`
	Cover     string      `json:"cover"`
	Used      bool        `json:"used"`
	PublicURL string      `json:"public_url,omitempty"`
	Items     []PhotoItem `json:"items"`
}

func (*PhotoIndex) DocKind() Kind { return KindPhotos }

// SlotSummary is the cheap projection of a PhotoIndex.
type SlotSummary struct {
	Header
	UpdatedAt time.Time `json:"updated_at"`
	Count     int       `json:"count"`
	Cover     string    `json:"cover"`
	TotalSize int64     `json:"total_size"`
	Used      bool      `json:"used"`
	PublicURL string    `json:"public_url,omitempty"`
}

func (*SlotSummary) DocKind() Kind { return KindSummary }

// LockMarker guards a slot or car during a write.
type LockMarker struct {
	Header
	Holder     string    `json:"holder"`
	Operation  string    `json:"operation"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	// Older writers left slot statistics in the lock file.
	Count     *int   `json:"count,omitempty"`
	TotalSize *int64 `json:"total_size,omitempty"`
}

func (*LockMarker) DocKind() Kind { return KindLock }

// Expired reports whether the lock is no longer live at now.
func (l *LockMarker) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// DirtyMarker flags a slot whose index could not be verified after a write.
type DirtyMarker struct {
	Header
	MarkedAt time.Time `json:"marked_at"`
	Reason   string    `json:"reason"`
	Files    []string  `json:"files,omitempty"`
}

func (*DirtyMarker) DocKind() Kind { return KindDirty }

// Link is a labelled URL attached to a car.
type Link struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// LinkList holds every link of a car.
type LinkList struct {
	Header
	UpdatedAt time.Time `json:"updated_at"`
	Links     []Link    `json:"links"`
}

func (*LinkList) DocKind() Kind { return KindLinks }

// Encode stamps the kind and schema version and returns indented JSON.
func Encode(doc Document) ([]byte, error) {
	h := doc.header()
	h.Kind = doc.DocKind()
	if h.Version == 0 {
		h.Version = SchemaVersion
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", h.Kind, err)
	}
	return data, nil
}

// decode validates data as kind and unmarshals it into a new T.
func decode[T any](kind Kind, data []byte) (*T, Result) {
	res := Validate(kind, data)
	if !res.OK {
		return nil, res
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalid(fmt.Sprintf("decoding %s: %v", kind, err))
	}
	return &doc, res
}

// DecodeRegionIndex validates and decodes a region index.
func DecodeRegionIndex(data []byte) (*RegionIndex, Result) {
	doc, res := decode[RegionIndex](KindRegion, data)
	if doc != nil && doc.Cars == nil {
		doc.Cars = []CarSummary{}
	}
	return doc, res
}

// DecodeCarMetadata validates and decodes car metadata.
func DecodeCarMetadata(data []byte) (*CarMetadata, Result) {
	return decode[CarMetadata](KindCar, data)
}

// DecodePhotoIndex validates and decodes a photo index.
func DecodePhotoIndex(data []byte) (*PhotoIndex, Result) {
	doc, res := decode[PhotoIndex](KindPhotos, data)
	if doc != nil && doc.Items == nil {
		doc.Items = []PhotoItem{}
	}
	return doc, res
}

// DecodeSlotSummary validates and decodes a slot summary.
func DecodeSlotSummary(data []byte) (*SlotSummary, Result) {
	return decode[SlotSummary](KindSummary, data)
}

// DecodeLockMarker validates and decodes a lock marker.
func DecodeLockMarker(data []byte) (*LockMarker, Result) {
	return decode[LockMarker](KindLock, data)
}

// DecodeDirtyMarker validates and decodes a dirty marker.
func DecodeDirtyMarker(data []byte) (*DirtyMarker, Result) {
	return decode[DirtyMarker](KindDirty, data)
}

// DecodeLinkList validates and decodes a link list.
func DecodeLinkList(data []byte) (*LinkList, Result) {
	doc, res := decode[LinkList](KindLinks, data)
	if doc != nil && doc.Links == nil {
		doc.Links = []Link{}
	}
	return doc, res
}

// NewRegionIndex builds a region index with cars sorted by folder name.
func NewRegionIndex(region string, cars []CarSummary, now time.Time) *RegionIndex {
	r := &RegionIndex{
		Header:    Header{Kind: KindRegion, Version: SchemaVersion},
		Region:    region,
		UpdatedAt: now.UTC(),
		Cars:      append([]CarSummary{}, cars...),
	}
	r.sortCars()
	return r
}

func (r *RegionIndex) sortCars() {
	sort.Slice(r.Cars, func(i, j int) bool {
		if r.Cars[i].Folder != r.Cars[j].Folder {
			return r.Cars[i].Folder < r.Cars[j].Folder
		}
		return r.Cars[i].VIN < r.Cars[j].VIN
	})
}

// Upsert adds car or replaces the entry with the same VIN.
func (r *RegionIndex) Upsert(car CarSummary) {
	for i, c := range r.Cars {
		if c.VIN == car.VIN {
			r.Cars[i] = car
			r.sortCars()
			return
		}
	}
	r.Cars = append(r.Cars, car)
	r.sortCars()
}

// Remove drops the car with the given VIN and reports whether it was listed.
func (r *RegionIndex) Remove(vin string) bool {
	for i, c := range r.Cars {
		if c.VIN == vin {
			r.Cars = append(r.Cars[:i], r.Cars[i+1:]...)
			return true
		}
	}
	return false
}
