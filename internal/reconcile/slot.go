package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/store"
)

// Slot lists one slot folder and writes a fresh photo index and slot
// summary describing exactly the image files found. A missing folder
// reconciles to an empty index. Any dirty marker is cleared and an expired
// lock marker is removed; a live lock is left alone.
func (r *Reconciler) Slot(ctx context.Context, slotPath string) (*index.PhotoIndex, *Result, error) {
	res := &Result{Path: slotPath, Depth: DepthSlot}

	entries, err := r.store.ListFolder(ctx, slotPath)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, res, fmt.Errorf("reconciling slot %s: %w", slotPath, err)
	}

	now := r.clock.Now()
	var (
		items                                []index.PhotoItem
		hasIndex, hasSummary, hasLock, dirty bool
	)
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		switch e.Name {
		case diskpath.PhotoIndexFile:
			hasIndex = true
		case diskpath.SlotSummaryFile:
			hasSummary = true
		case diskpath.LockFile:
			hasLock = true
		case diskpath.DirtyFile:
			dirty = true
		}
		if diskpath.IsMetadataName(e.Name) {
			continue
		}
		items = append(items, index.PhotoItem{Name: e.Name, Size: e.Size, Modified: e.Modified.UTC()})
	}

	fresh := index.NewPhotoIndex(items, now)
	if extra := fresh.Truncate(index.PhotoLimit); len(extra) > 0 {
		// The index never holds more than the slot capacity; the files
		// themselves stay on disk for an operator to sort out.
		res.fail("slot holds %d photos, over the limit of %d; not indexed: %s",
			index.PhotoLimit+len(extra), index.PhotoLimit, strings.Join(extra, ", "))
		r.logger.Warn("slot over capacity", "path", slotPath, "limit", index.PhotoLimit, "unindexed", len(extra))
	}

	previous, err := r.previousIndex(ctx, slotPath, hasIndex, res)
	if err != nil {
		return nil, res, err
	}
	switch {
	case previous != nil:
		fresh.PublicURL = previous.PublicURL
	case hasSummary:
		fresh.PublicURL = r.summaryURL(ctx, slotPath)
	}
	if previous == nil || !sameItems(previous, fresh) {
		res.Repaired++
	}

	if err := r.writeDoc(ctx, diskpath.Join(slotPath, diskpath.PhotoIndexFile), fresh); err != nil {
		return nil, res, fmt.Errorf("writing photo index for %s: %w", slotPath, err)
	}
	if err := r.writeDoc(ctx, diskpath.Join(slotPath, diskpath.SlotSummaryFile), fresh.Summary(now)); err != nil {
		return nil, res, fmt.Errorf("writing slot summary for %s: %w", slotPath, err)
	}
	res.action("wrote %s with %d items", diskpath.PhotoIndexFile, fresh.Count)

	if dirty {
		if err := r.store.Delete(ctx, diskpath.Join(slotPath, diskpath.DirtyFile)); err != nil {
			res.fail("clearing dirty marker: %v", err)
		} else {
			res.action("cleared dirty marker")
		}
	}
	if hasLock {
		r.clearExpiredLock(ctx, slotPath, now, res)
	}

	r.finish(res)
	return fresh, res, nil
}

// previousIndex loads the photo index that was in place, or nil when there
// was none or it failed validation.
func (r *Reconciler) previousIndex(ctx context.Context, slotPath string, listed bool, res *Result) (*index.PhotoIndex, error) {
	if !listed {
		return nil, nil
	}
	data, err := r.download(ctx, diskpath.Join(slotPath, diskpath.PhotoIndexFile))
	if err != nil {
		return nil, fmt.Errorf("reading photo index of %s: %w", slotPath, err)
	}
	if data == nil {
		return nil, nil
	}
	doc, vr := index.DecodePhotoIndex(data)
	if !vr.OK {
		res.action("discarded invalid %s: %s", diskpath.PhotoIndexFile, vr)
		r.logger.Warn("invalid photo index", "path", slotPath, "problems", vr.String())
		return nil, nil
	}
	return doc, nil
}

// summaryURL recovers a public URL from the slot summary. Failures only
// lose the URL, so they are not reported.
func (r *Reconciler) summaryURL(ctx context.Context, slotPath string) string {
	data, err := r.download(ctx, diskpath.Join(slotPath, diskpath.SlotSummaryFile))
	if err != nil || data == nil {
		return ""
	}
	doc, vr := index.DecodeSlotSummary(data)
	if !vr.OK {
		return ""
	}
	return doc.PublicURL
}

// clearExpiredLock removes a dead lock marker. The marker is read again just
// before the delete and left alone if it changed, so a writer that replaced
// it in the meantime keeps its lock.
func (r *Reconciler) clearExpiredLock(ctx context.Context, slotPath string, now time.Time, res *Result) {
	lockPath := diskpath.Join(slotPath, diskpath.LockFile)
	data, err := r.download(ctx, lockPath)
	if err != nil {
		res.fail("reading lock marker: %v", err)
		return
	}
	if data == nil {
		return
	}
	lock, vr := index.DecodeLockMarker(data)
	if vr.OK && !lock.Expired(now) {
		r.logger.Debug("slot lock is live", "path", slotPath, "holder", lock.Holder)
		return
	}

	again, err := r.download(ctx, lockPath)
	if err != nil {
		res.fail("re-reading lock marker: %v", err)
		return
	}
	if !bytes.Equal(again, data) {
		r.logger.Debug("slot lock replaced during reconcile", "path", slotPath)
		return
	}
	if err := r.store.Delete(ctx, lockPath); err != nil {
		res.fail("removing stale lock marker: %v", err)
		return
	}
	if vr.OK {
		res.action("removed lock held by %s expired at %s", lock.Holder, lock.ExpiresAt.Format(time.RFC3339))
	} else {
		res.action("removed invalid lock marker")
	}
}

func sameItems(a, b *index.PhotoIndex) bool {
	if len(a.Items) != len(b.Items) || a.Count != b.Count {
		return false
	}
	for i := range a.Items {
		if a.Items[i].Name != b.Items[i].Name || a.Items[i].Size != b.Items[i].Size {
			return false
		}
	}
	return true
}
