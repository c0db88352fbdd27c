package carphoto

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
)

// Write outcomes recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeDirty    = "dirty"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

func writeOutcome(res *WriteResult, err error) string {
	switch {
	case err == nil && res != nil && res.Dirty:
		return outcomeDirty
	case err == nil:
		return outcomeOK
	}
	switch CodeOf(err) {
	case CodeInvalidInput, CodeNotFound, CodeConflict, CodeLimitExceeded:
		return outcomeRejected
	default:
		return outcomeFailed
	}
}

type preparedFile struct {
	name        string
	path        string
	data        []byte
	contentType string
}

// UploadPhotos adds files to a slot.
//
// Stage A rejects the whole batch before any byte is sent when names,
// types or sizes are unacceptable or the slot would exceed 40 photos.
// Stage B uploads each file; a failure deletes the files this call added.
// Stage C merges the new names into a freshly read index under the slot
// lock. Stage D re-reads the index and marks the slot dirty, instead of
// failing, when the write cannot be confirmed.
func (s *Service) UploadPhotos(ctx context.Context, req UploadRequest) (*WriteResult, error) {
	res, err := s.uploadPhotos(ctx, "upload photos", req)
	s.metrics.RecordWrite("upload", writeOutcome(res, err))
	return res, err
}

func (s *Service) uploadPhotos(ctx context.Context, op string, req UploadRequest) (*WriteResult, error) {
	// Stage A: preflight.
	car, ref, err := s.resolveSlot(ctx, op, req.Slot)
	if err != nil {
		return nil, err
	}
	files, err := s.prepareUploads(op, ref.Path, req.Files)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureFolder(ctx, ref.Path); err != nil {
		return nil, classify(op, "creating slot folder", err)
	}
	current, err := s.preflightIndex(ctx, ref.Path)
	if err != nil {
		return nil, classify(op, "reading photo index", err)
	}
	if s.settings.OneShotSlots && current.Used {
		return nil, newError(CodeConflict, op, "slot %s %d already has %d photos", ref.Type, ref.Index, current.Count)
	}
	isNew := make(map[string]bool, len(files))
	for _, f := range files {
		if !current.Has(f.name) {
			isNew[f.name] = true
		}
	}
	if current.Count+len(isNew) > index.PhotoLimit {
		return nil, newError(CodeLimitExceeded, op, "slot %s %d has %d photos, %d more would exceed the limit of %d",
			ref.Type, ref.Index, current.Count, len(isNew), index.PhotoLimit)
	}

	// Stage B: commit data.
	var added []string
	for _, f := range files {
		if err := s.store.UploadBytes(ctx, f.path, f.data, f.contentType); err != nil {
			s.rollback(ctx, op, added)
			return nil, classify(op, fmt.Sprintf("uploading %s", f.name), err)
		}
		if isNew[f.name] {
			added = append(added, f.path)
		}
		s.logger.Debug("photo uploaded", "path", f.path, "size", len(f.data))
	}

	// Stage C: commit index.
	now := s.clock.Now().UTC()
	items := make([]index.PhotoItem, len(files))
	names := make([]string, len(files))
	for i, f := range files {
		items[i] = index.PhotoItem{Name: f.name, Size: int64(len(f.data)), Modified: now}
		names[i] = f.name
	}
	var before *index.PhotoIndex
	committed, err := s.commitIndex(ctx, op, ref.Path, func(idx *index.PhotoIndex) error {
		before = idx.Clone()
		idx.Merge(items)
		if idx.Count > index.PhotoLimit {
			return newError(CodeLimitExceeded, op, "slot %s %d filled up concurrently: %d photos would exceed the limit of %d",
				ref.Type, ref.Index, idx.Count, index.PhotoLimit)
		}
		return nil
	})
	if err != nil {
		s.rollback(ctx, op, unindexed(added, before))
		return nil, err
	}

	// Stage D: verify.
	res := &WriteResult{Slot: ref, Files: names, Count: committed.Count}
	res.Dirty, res.DirtyReason = s.verify(ctx, ref.Path, names, func(idx *index.PhotoIndex) []string {
		var missing []string
		for _, n := range names {
			if !idx.Has(n) {
				missing = append(missing, n)
			}
		}
		return missing
	})

	s.syncSlot(car, ref, committed)
	s.logger.Info("photos uploaded", "slot", ref.Path, "files", len(names), "count", committed.Count, "dirty", res.Dirty, "actor", req.Actor)
	return res, nil
}

// prepareUploads validates a batch: sanitized unique names, image content,
// per-file and per-batch size limits.
func (s *Service) prepareUploads(op, slotPath string, files []UploadFile) ([]preparedFile, error) {
	if len(files) == 0 {
		return nil, newError(CodeInvalidInput, op, "no files")
	}
	out := make([]preparedFile, 0, len(files))
	seen := make(map[string]bool, len(files))
	var total int64
	for _, f := range files {
		name, err := s.photoName(op, f.Name)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, newError(CodeInvalidInput, op, "%q appears twice in the batch", name)
		}
		seen[name] = true

		size := int64(len(f.Data))
		if size == 0 {
			return nil, newError(CodeInvalidInput, op, "%s is empty", name)
		}
		if limit := s.settings.MaxFileSize; limit > 0 && size > limit {
			return nil, newError(CodeLimitExceeded, op, "%s is %s, the limit is %s",
				name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
		}
		total += size

		mt := mimetype.Detect(f.Data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil, newError(CodeInvalidInput, op, "%s is %s, not an image", name, mt.String())
		}

		p, err := diskpath.AssertValid(diskpath.Join(slotPath, name), diskpath.StagePreflight)
		if err != nil {
			return nil, classify(op, "photo path", err)
		}
		out = append(out, preparedFile{name: name, path: p, data: f.Data, contentType: mt.String()})
	}
	if limit := s.settings.MaxBatchSize; limit > 0 && total > limit {
		return nil, newError(CodeLimitExceeded, op, "batch is %s, the limit is %s",
			humanize.IBytes(uint64(total)), humanize.IBytes(uint64(limit)))
	}
	return out, nil
}

// photoName sanitizes a photo file name and rejects reserved names.
func (s *Service) photoName(op, raw string) (string, error) {
	name := diskpath.SanitizeFilename(raw)
	if name == "" {
		return "", newError(CodeInvalidInput, op, "file name %q is empty after sanitizing", raw)
	}
	if diskpath.IsMetadataName(name) {
		return "", newError(CodeInvalidInput, op, "file name %q is reserved", name)
	}
	return name, nil
}

// preflightIndex returns the slot's current index. A pending dirty marker
// is consumed by reconciling first, so limits are checked against what is
// really on the store.
func (s *Service) preflightIndex(ctx context.Context, slotPath string) (*index.PhotoIndex, error) {
	dirty, err := s.download(ctx, diskpath.Join(slotPath, diskpath.DirtyFile))
	if err != nil {
		return nil, err
	}
	if dirty != nil {
		s.logger.Info("slot marked dirty, reconciling before write", "path", slotPath)
		idx, _, err := s.reconciler.Slot(ctx, slotPath)
		return idx, err
	}
	return s.loadPhotoIndex(ctx, slotPath)
}

// commitIndex re-reads the photo index under the slot lock, applies mutate
// and writes the index and its summary. mutate may veto the write by
// returning an error.
func (s *Service) commitIndex(ctx context.Context, op, slotPath string, mutate func(idx *index.PhotoIndex) error) (*index.PhotoIndex, error) {
	var committed *index.PhotoIndex
	err := s.withLock(ctx, slotPath, op, func(l *lock) error {
		idx, err := s.loadPhotoIndex(ctx, slotPath)
		if err != nil {
			return classify(op, "re-reading photo index", err)
		}
		if err := mutate(idx); err != nil {
			return err
		}
		idx.UpdatedAt = s.clock.Now().UTC()
		if err := s.writeSlotIndex(ctx, slotPath, idx); err != nil {
			return classify(op, "writing photo index", err)
		}
		if !s.held(ctx, l) {
			s.logger.Warn("lock lost during index commit", "path", slotPath, "holder", l.holder)
		}
		committed = idx
		return nil
	})
	return committed, err
}

// writeSlotIndex writes the photo index, then the summary. The summary is
// only a projection, so failing to write it is logged, not returned.
func (s *Service) writeSlotIndex(ctx context.Context, slotPath string, idx *index.PhotoIndex) error {
	if err := s.writeDoc(ctx, diskpath.Join(slotPath, diskpath.PhotoIndexFile), idx); err != nil {
		return err
	}
	if err := s.writeDoc(ctx, diskpath.Join(slotPath, diskpath.SlotSummaryFile), idx.Summary(idx.UpdatedAt)); err != nil {
		s.logger.Warn("writing slot summary failed", "path", slotPath, "error", err)
	}
	return nil
}

// verify re-reads the committed index. When check reports problems, or the
// index cannot be read back, the slot is marked dirty.
func (s *Service) verify(ctx context.Context, slotPath string, files []string, check func(idx *index.PhotoIndex) []string) (bool, string) {
	var reason string
	data, err := s.download(ctx, diskpath.Join(slotPath, diskpath.PhotoIndexFile))
	switch {
	case err != nil:
		reason = fmt.Sprintf("reading index back failed: %v", err)
	case data == nil:
		reason = "index missing after write"
	default:
		idx, vr := index.DecodePhotoIndex(data)
		if !vr.OK {
			reason = "index invalid after write: " + vr.String()
		} else if bad := check(idx); len(bad) > 0 {
			reason = "index does not reflect the write: " + strings.Join(bad, ", ")
		}
	}
	if reason == "" {
		return false, ""
	}
	s.markDirty(ctx, slotPath, reason, files)
	return true, reason
}

func (s *Service) markDirty(ctx context.Context, slotPath, reason string, files []string) {
	s.metrics.RecordDirty()
	s.logger.Warn("marking slot dirty", "path", slotPath, "reason", reason)
	marker := &index.DirtyMarker{MarkedAt: s.clock.Now().UTC(), Reason: reason, Files: files}
	if err := s.writeDoc(context.WithoutCancel(ctx), diskpath.Join(slotPath, diskpath.DirtyFile), marker); err != nil {
		s.logger.Error("writing dirty marker failed", "path", slotPath, "error", err)
	}
}

// rollback deletes files this operation added.
func (s *Service) rollback(ctx context.Context, op string, paths []string) {
	if len(paths) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, p := range paths {
		if err := s.store.Delete(ctx, p); err != nil {
			s.logger.Error("rollback failed", "op", op, "path", p, "error", err)
		}
	}
	s.logger.Warn("rolled back uploaded files", "op", op, "files", len(paths))
}

// unindexed returns the paths whose names are not in idx. A nil idx means
// the index was never read and every path is unindexed.
func unindexed(paths []string, idx *index.PhotoIndex) []string {
	if idx == nil {
		return paths
	}
	var out []string
	for _, p := range paths {
		if !idx.Has(diskpath.Base(p)) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) syncSlot(car Car, ref diskpath.SlotRef, idx *index.PhotoIndex) {
	st := statsFromIndex(ref, idx, SourcePhotos)
	s.syncCache("slot "+ref.Path, func(ctx context.Context) error {
		return s.cache.SyncSlots(ctx, car.Region, car.VIN, []SlotStats{st})
	})
}

// DeletePhotos removes photos from a slot in the same four stages as an
// upload: validate, delete the files, drop them from the index under the
// lock, verify they are gone.
func (s *Service) DeletePhotos(ctx context.Context, req DeleteRequest) (*WriteResult, error) {
	res, err := s.deletePhotos(ctx, "delete photos", req)
	s.metrics.RecordWrite("delete", writeOutcome(res, err))
	return res, err
}

func (s *Service) deletePhotos(ctx context.Context, op string, req DeleteRequest) (*WriteResult, error) {
	car, ref, err := s.resolveSlot(ctx, op, req.Slot)
	if err != nil {
		return nil, err
	}
	if len(req.Names) == 0 {
		return nil, newError(CodeInvalidInput, op, "no files")
	}
	var names, paths []string
	seen := make(map[string]bool)
	for _, raw := range req.Names {
		name, err := s.photoName(op, raw)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := diskpath.AssertValid(diskpath.Join(ref.Path, name), diskpath.StagePreflight)
		if err != nil {
			return nil, classify(op, "photo path", err)
		}
		names = append(names, name)
		paths = append(paths, p)
	}
	current, err := s.preflightIndex(ctx, ref.Path)
	if err != nil {
		return nil, classify(op, "reading photo index", err)
	}
	for _, n := range names {
		if !current.Has(n) {
			return nil, newError(CodeNotFound, op, "%s is not in slot %s %d", n, ref.Type, ref.Index)
		}
	}

	for i, p := range paths {
		if err := s.store.Delete(ctx, p); err != nil {
			// Some files may be gone already; the index no longer matches.
			s.markDirty(ctx, ref.Path, fmt.Sprintf("delete of %s failed", names[i]), names)
			return nil, classify(op, fmt.Sprintf("deleting %s", names[i]), err)
		}
	}

	committed, err := s.commitIndex(ctx, op, ref.Path, func(idx *index.PhotoIndex) error {
		idx.Remove(names...)
		return nil
	})
	if err != nil {
		s.markDirty(ctx, ref.Path, "index commit after delete failed", names)
		return nil, err
	}

	res := &WriteResult{Slot: ref, Files: names, Count: committed.Count}
	res.Dirty, res.DirtyReason = s.verify(ctx, ref.Path, names, func(idx *index.PhotoIndex) []string {
		var still []string
		for _, n := range names {
			if idx.Has(n) {
				still = append(still, n)
			}
		}
		return still
	})

	s.syncSlot(car, ref, committed)
	s.logger.Info("photos deleted", "slot", ref.Path, "files", len(names), "count", committed.Count, "actor", req.Actor)
	return res, nil
}

// RenamePhoto renames one photo. The file is moved without overwrite, so
// an existing target name is a conflict.
func (s *Service) RenamePhoto(ctx context.Context, req RenameRequest) (*WriteResult, error) {
	res, err := s.renamePhoto(ctx, "rename photo", req)
	s.metrics.RecordWrite("rename", writeOutcome(res, err))
	return res, err
}

func (s *Service) renamePhoto(ctx context.Context, op string, req RenameRequest) (*WriteResult, error) {
	car, ref, err := s.resolveSlot(ctx, op, req.Slot)
	if err != nil {
		return nil, err
	}
	from, err := s.photoName(op, req.From)
	if err != nil {
		return nil, err
	}
	to, err := s.photoName(op, req.To)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, newError(CodeInvalidInput, op, "%s: new name is the same", from)
	}
	fromPath, err := diskpath.AssertValid(diskpath.Join(ref.Path, from), diskpath.StagePreflight)
	if err != nil {
		return nil, classify(op, "photo path", err)
	}
	toPath, err := diskpath.AssertValid(diskpath.Join(ref.Path, to), diskpath.StagePreflight)
	if err != nil {
		return nil, classify(op, "photo path", err)
	}

	current, err := s.preflightIndex(ctx, ref.Path)
	if err != nil {
		return nil, classify(op, "reading photo index", err)
	}
	if !current.Has(from) {
		return nil, newError(CodeNotFound, op, "%s is not in slot %s %d", from, ref.Type, ref.Index)
	}
	if current.Has(to) {
		return nil, newError(CodeConflict, op, "%s already exists in slot %s %d", to, ref.Type, ref.Index)
	}

	if err := s.store.Move(ctx, fromPath, toPath, false); err != nil {
		return nil, classify(op, fmt.Sprintf("moving %s to %s", from, to), err)
	}

	now := s.clock.Now().UTC()
	committed, err := s.commitIndex(ctx, op, ref.Path, func(idx *index.PhotoIndex) error {
		if idx.Rename(from, to, now) {
			return nil
		}
		// The entry vanished concurrently; index the file under its new name.
		entry, err := s.store.Stat(ctx, toPath)
		if err != nil {
			return classify(op, "stat renamed photo", err)
		}
		idx.Remove(from)
		idx.Merge([]index.PhotoItem{{Name: to, Size: entry.Size, Modified: now}})
		return nil
	})
	if err != nil {
		s.markDirty(ctx, ref.Path, "index commit after rename failed", []string{from, to})
		return nil, err
	}

	res := &WriteResult{Slot: ref, Files: []string{to}, Count: committed.Count}
	res.Dirty, res.DirtyReason = s.verify(ctx, ref.Path, []string{from, to}, func(idx *index.PhotoIndex) []string {
		var bad []string
		if !idx.Has(to) {
			bad = append(bad, to+" missing")
		}
		if idx.Has(from) {
			bad = append(bad, from+" still present")
		}
		return bad
	})

	s.syncSlot(car, ref, committed)
	s.logger.Info("photo renamed", "slot", ref.Path, "from", from, "to", to, "actor", req.Actor)
	return res, nil
}
