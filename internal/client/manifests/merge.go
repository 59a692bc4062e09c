package manifests

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dmitrijs2005/gophsafe/internal/logging"
)

var (
	// ErrStaleRemote is returned when the remote manifest is not newer than
	// the version the local one derives from. Callers check versions first.
	ErrStaleRemote  = errors.New("remote manifest is not newer than local base")
	ErrFileConflict = errors.New("file manifest conflict")
)

// FileConflictError reports a file changed both locally and remotely.
type FileConflictError struct {
	ID               EntryID
	LocalBaseVersion uint64
	RemoteVersion    uint64
}

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("file %s changed locally (base v%d) and remotely (v%d)", e.ID, e.LocalBaseVersion, e.RemoteVersion)
}

func (e *FileConflictError) Is(target error) bool { return target == ErrFileConflict }

// Merger runs the merge functions. Its only state is the logger used to
// report merges that recovered from an impossible input.
type Merger struct {
	Logger logging.Logger
}

func (m Merger) logger() logging.Logger {
	if m.Logger == nil {
		return logging.NewNop()
	}
	return m.Logger
}

// MergeWorkspaceEntry merges one workspace entry changed both locally
// (diverged) and remotely (target). base is the entry both derive from, nil
// when the entry did not exist in the base manifest.
func MergeWorkspaceEntry(base *WorkspaceEntry, diverged, target WorkspaceEntry) WorkspaceEntry {
	out := target.clone()

	switch {
	case base == nil || base.Name != target.Name:
	case base.Name != diverged.Name:
		out.Name = diverged.Name
	}

	// Equal revisions are assumed to carry the same key.
	if diverged.EncryptionRevision > target.EncryptionRevision {
		out.EncryptionRevision = diverged.EncryptionRevision
		out.EncryptedOn = diverged.EncryptedOn
		out.Key = slices.Clone(diverged.Key)
	}

	takeDiverged := diverged.LegacyRoleCacheTimestamp.After(target.LegacyRoleCacheTimestamp)
	if diverged.LegacyRoleCacheTimestamp.Equal(target.LegacyRoleCacheTimestamp) &&
		!sameRole(diverged.LegacyRoleCacheValue, target.LegacyRoleCacheValue) &&
		base != nil && sameRole(base.LegacyRoleCacheValue, target.LegacyRoleCacheValue) {
		// Same timestamp, only the local side moved away from base.
		takeDiverged = true
	}
	if takeDiverged {
		out.LegacyRoleCacheTimestamp = diverged.LegacyRoleCacheTimestamp
		out.LegacyRoleCacheValue = nil
		if diverged.LegacyRoleCacheValue != nil {
			r := *diverged.LegacyRoleCacheValue
			out.LegacyRoleCacheValue = &r
		}
	}
	return out
}

func findEntry(entries []WorkspaceEntry, e WorkspaceEntry) int {
	return slices.IndexFunc(entries, func(w WorkspaceEntry) bool { return w.ID == e.ID })
}

func sortEntries(entries []WorkspaceEntry) {
	slices.SortStableFunc(entries, func(a, b WorkspaceEntry) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}

// MergeWorkspaceEntries merges the workspace lists of a manifest. The result
// starts from target; needSync is set whenever a diverged entry is added or
// differs from its target counterpart, even if the merge keeps the target
// value.
func (m Merger) MergeWorkspaceEntries(ctx context.Context, base, diverged, target []WorkspaceEntry) ([]WorkspaceEntry, bool) {
	out := cloneEntries(target)
	needSync := false

	for _, d := range diverged {
		i := findEntry(out, d)
		switch {
		case i < 0:
			out = append(out, d.clone())
			needSync = true
		case out[i].Equal(d):
		default:
			var b *WorkspaceEntry
			if j := findEntry(base, d); j >= 0 {
				b = &base[j]
			}
			out[i] = MergeWorkspaceEntry(b, d, out[i])
			needSync = true
		}
	}

	// Workspaces are never removed from the user manifest.
	for _, b := range base {
		if findEntry(out, b) < 0 {
			m.logger().Error(ctx, "workspace entry lost during merge, restoring it", "workspace_id", b.ID, "name", b.Name)
			out = append(out, b.clone())
			needSync = true
		}
	}

	sortEntries(out)
	return out, needSync
}

// MergeLocalUserManifests rebases the local user manifest on a newer remote
// version, keeping the local changes.
func (m Merger) MergeLocalUserManifests(ctx context.Context, diverged LocalUserManifest, target UserManifest) (LocalUserManifest, error) {
	if target.Version <= diverged.Base.Version {
		return LocalUserManifest{}, fmt.Errorf("%w: local base v%d, remote v%d", ErrStaleRemote, diverged.Base.Version, target.Version)
	}

	workspaces, needSync := m.MergeWorkspaceEntries(ctx, diverged.Base.Workspaces, diverged.Workspaces, target.Workspaces)
	if diverged.LastProcessedMessage != target.LastProcessedMessage {
		needSync = true
	}

	updated := target.Updated
	if needSync && diverged.Updated.After(updated) {
		updated = diverged.Updated
	}

	base := target
	base.Workspaces = cloneEntries(target.Workspaces)
	return LocalUserManifest{
		Base:                 base,
		NeedSync:             needSync,
		Updated:              updated,
		LastProcessedMessage: max(diverged.LastProcessedMessage, target.LastProcessedMessage),
		Workspaces:           workspaces,
		Speculative:          false,
	}, nil
}

// MergeLocalFolderManifests rebases a local folder on a newer remote
// version. Children are merged by name against the common base. When both
// sides bound the same name to different entries, the remote keeps the name
// and the local entry is renamed.
func (m Merger) MergeLocalFolderManifests(ctx context.Context, diverged LocalFolderManifest, target FolderManifest) (LocalFolderManifest, error) {
	if target.Version <= diverged.Base.Version {
		return LocalFolderManifest{}, fmt.Errorf("%w: local base v%d, remote v%d", ErrStaleRemote, diverged.Base.Version, target.Version)
	}

	base, local, remote := diverged.Base.Children, diverged.Children, target.Children
	out := map[string]EntryID{}
	var conflicts []string

	names := map[string]struct{}{}
	for _, children := range []map[string]EntryID{base, local, remote} {
		for name := range children {
			names[name] = struct{}{}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(names)) {
		b, inBase := base[name]
		d, inLocal := local[name]
		t, inRemote := remote[name]
		same := func(x EntryID, okX bool, y EntryID, okY bool) bool { return okX == okY && x == y }

		switch {
		case same(d, inLocal, b, inBase), same(d, inLocal, t, inRemote):
			if inRemote {
				out[name] = t
			}
		case same(t, inRemote, b, inBase), !inRemote:
			if inLocal {
				out[name] = d
			}
		case !inLocal:
			out[name] = t
		default:
			out[name] = t
			conflicts = append(conflicts, name)
		}
	}
	for _, name := range conflicts {
		out[conflictName(out, name, local[name])] = local[name]
	}

	// An entry renamed on both sides keeps the remote name.
	for name, id := range out {
		if remote[name] == id {
			continue
		}
		for rname, rid := range remote {
			if rid == id && out[rname] == id {
				delete(out, name)
				break
			}
		}
	}

	needSync := !maps.Equal(out, remote)
	if needSync {
		m.logger().Debug(ctx, "folder merged with local changes", "folder_id", target.ID, "conflicts", len(conflicts))
	}
	updated := target.Updated
	if needSync && diverged.Updated.After(updated) {
		updated = diverged.Updated
	}

	baseOut := target
	baseOut.Children = cloneChildren(target.Children)
	return LocalFolderManifest{
		Base:        baseOut,
		NeedSync:    needSync,
		Updated:     updated,
		Children:    out,
		Speculative: false,
	}, nil
}

func conflictName(taken map[string]EntryID, name string, id EntryID) string {
	short := string(id)
	if len(short) > 8 {
		short = short[:8]
	}
	candidate := fmt.Sprintf("%s (conflicting with %s)", name, short)
	for n := 2; ; n++ {
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
		candidate = fmt.Sprintf("%s (conflicting with %s, %d)", name, short, n)
	}
}

// MergeLocalFileManifests rebases a local file on a newer remote version.
// Files are not merged: the remote wins when there are no local changes,
// otherwise a FileConflictError is returned.
func (m Merger) MergeLocalFileManifests(ctx context.Context, diverged LocalFileManifest, target FileManifest) (LocalFileManifest, error) {
	if target.Version <= diverged.Base.Version {
		return LocalFileManifest{}, fmt.Errorf("%w: local base v%d, remote v%d", ErrStaleRemote, diverged.Base.Version, target.Version)
	}

	unchanged := !diverged.NeedSync ||
		(diverged.Size == target.Size && diverged.Blocksize == target.Blocksize && sameBlocks(diverged.Blocks, target.Blocks))
	if !unchanged {
		m.logger().Info(ctx, "file changed on both sides", "file_id", target.ID, "base_version", diverged.Base.Version, "remote_version", target.Version)
		return LocalFileManifest{}, &FileConflictError{ID: target.ID, LocalBaseVersion: diverged.Base.Version, RemoteVersion: target.Version}
	}

	base := target
	base.Blocks = cloneBlocks(target.Blocks)
	return LocalFileManifest{
		Base:      base,
		Updated:   target.Updated,
		Size:      target.Size,
		Blocksize: target.Blocksize,
		Blocks:    cloneBlocks(target.Blocks),
	}, nil
}

// Package level shortcuts using a silent Merger.

func MergeWorkspaceEntries(base, diverged, target []WorkspaceEntry) ([]WorkspaceEntry, bool) {
	return Merger{}.MergeWorkspaceEntries(context.Background(), base, diverged, target)
}

func MergeLocalUserManifests(diverged LocalUserManifest, target UserManifest) (LocalUserManifest, error) {
	return Merger{}.MergeLocalUserManifests(context.Background(), diverged, target)
}

func MergeLocalFolderManifests(diverged LocalFolderManifest, target FolderManifest) (LocalFolderManifest, error) {
	return Merger{}.MergeLocalFolderManifests(context.Background(), diverged, target)
}

func MergeLocalFileManifests(diverged LocalFileManifest, target FileManifest) (LocalFileManifest, error) {
	return Merger{}.MergeLocalFileManifests(context.Background(), diverged, target)
}
