package carphoto

import (
	"time"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
)

// Car is one vehicle as returned to callers and mirrored in the cache.
type Car struct {
	Region    string
	VIN       string
	Make      string
	Model     string
	Folder    string // folder name below the region root
	Root      string // canonical car root path
	CreatedAt time.Time
	CreatedBy string
	Deleted   bool
	DeletedAt time.Time
	DeletedBy string
}

// Region is the car listing of one region.
type Region struct {
	Name      string
	UpdatedAt time.Time
	Cars      []Car

	// Stale is set when the store was unreachable and the listing came
	// from the relational cache.
	Stale bool
}

// CarDetail is a car with its fixed slot catalog. Slot statistics are
// loaded separately by GetSlotCounts.
type CarDetail struct {
	Car
	Slots []diskpath.SlotRef
}

// Stats sources, in the order they are tried.
const (
	SourceDirty     = "dirty_marker"
	SourcePhotos    = "photo_index"
	SourceSummary   = "slot_summary"
	SourceLock      = "lock_marker"
	SourceReconcile = "reconcile"
)

// SlotStats describes one slot of a car.
type SlotStats struct {
	Type      diskpath.SlotType
	Index     int
	Path      string
	Count     int
	TotalSize int64
	Cover     string
	Used      bool
	PublicURL string
	UpdatedAt time.Time
	Source    string // which document the numbers came from
}

// SlotTarget identifies one slot by car identity.
type SlotTarget struct {
	Region string
	VIN    string
	Type   diskpath.SlotType
	Index  int
}

// UploadFile is one photo to upload.
type UploadFile struct {
	Name string
	Data []byte
}

// UploadRequest adds photos to a slot.
type UploadRequest struct {
	Slot  SlotTarget
	Files []UploadFile
	Actor string
}

// DeleteRequest removes photos from a slot.
type DeleteRequest struct {
	Slot  SlotTarget
	Names []string
	Actor string
}

// RenameRequest renames one photo inside a slot.
type RenameRequest struct {
	Slot  SlotTarget
	From  string
	To    string
	Actor string
}

// WriteResult reports a completed write. Dirty means the data is durable
// but the index could not be confirmed; the slot repairs itself on the
// next read.
type WriteResult struct {
	Slot        diskpath.SlotRef
	Files       []string // names written, removed or renamed to
	Count       int      // photos in the slot after the write
	Dirty       bool
	DirtyReason string
}

// CreateCarRequest registers a new car.
type CreateCarRequest struct {
	Region string
	Make   string
	Model  string
	VIN    string
	Actor  string
}

// AddLinkRequest attaches a link to a car.
type AddLinkRequest struct {
	Region string
	VIN    string
	Label  string
	URL    string
	Actor  string
}

// ReconcileRequest asks for an explicit rebuild. SlotType and SlotIndex
// are only read for slot depth; VIN is ignored for region depth.
type ReconcileRequest struct {
	Region    string
	VIN       string
	SlotType  diskpath.SlotType
	SlotIndex int
	Depth     string
}

func carFromSummary(region, root string, c index.CarSummary) Car {
	return Car{
		Region:    region,
		VIN:       c.VIN,
		Make:      c.Make,
		Model:     c.Model,
		Folder:    c.Folder,
		Root:      root,
		CreatedAt: c.CreatedAt,
		CreatedBy: c.CreatedBy,
	}
}

func (c Car) summary() index.CarSummary {
	return index.CarSummary{
		VIN:       c.VIN,
		Make:      c.Make,
		Model:     c.Model,
		Folder:    c.Folder,
		CreatedAt: c.CreatedAt,
		CreatedBy: c.CreatedBy,
	}
}

func statsFromIndex(ref diskpath.SlotRef, p *index.PhotoIndex, source string) SlotStats {
	return SlotStats{
		Type:      ref.Type,
		Index:     ref.Index,
		Path:      ref.Path,
		Count:     p.Count,
		TotalSize: p.TotalSize(),
		Cover:     p.Cover,
		Used:      p.Used,
		PublicURL: p.PublicURL,
		UpdatedAt: p.UpdatedAt,
		Source:    source,
	}
}
