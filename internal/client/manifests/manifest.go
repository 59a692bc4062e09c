// Package manifests holds the local manifests of a device and the three-way
// merge applied when a newer remote version is fetched.
//
// Manifests are plain values. Merge functions copy what they keep and never
// modify their arguments.
package manifests

import (
	"bytes"
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/google/uuid"
)

type EntryID string

func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// WorkspaceEntry describes one workspace in the user manifest. It mirrors a
// realm and caches the key needed to read it.
type WorkspaceEntry struct {
	ID                 certificates.RealmID `json:"id"`
	Name               string               `json:"name"`
	Key                []byte               `json:"key"`
	EncryptionRevision uint64               `json:"encryption_revision"`
	EncryptedOn        time.Time            `json:"encrypted_on"`

	// Role cache from before roles were read from certificates.
	LegacyRoleCacheTimestamp time.Time               `json:"legacy_role_cache_timestamp"`
	LegacyRoleCacheValue     *certificates.RealmRole `json:"legacy_role_cache_value,omitempty"`
}

func (w WorkspaceEntry) Equal(o WorkspaceEntry) bool {
	return w.ID == o.ID &&
		w.Name == o.Name &&
		bytes.Equal(w.Key, o.Key) &&
		w.EncryptionRevision == o.EncryptionRevision &&
		w.EncryptedOn.Equal(o.EncryptedOn) &&
		w.LegacyRoleCacheTimestamp.Equal(o.LegacyRoleCacheTimestamp) &&
		sameRole(w.LegacyRoleCacheValue, o.LegacyRoleCacheValue)
}

func (w WorkspaceEntry) clone() WorkspaceEntry {
	w.Key = slices.Clone(w.Key)
	if w.LegacyRoleCacheValue != nil {
		w.LegacyRoleCacheValue = certificates.RolePtr(*w.LegacyRoleCacheValue)
	}
	return w
}

func sameRole(a, b *certificates.RealmRole) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneEntries(in []WorkspaceEntry) []WorkspaceEntry {
	if in == nil {
		return nil
	}
	out := make([]WorkspaceEntry, len(in))
	for i, w := range in {
		out[i] = w.clone()
	}
	return out
}

// UserManifest is the remote user manifest, as stored on the server.
type UserManifest struct {
	ID                   EntryID               `json:"id"`
	Version              uint64                `json:"version"`
	Author               certificates.DeviceID `json:"author"`
	Timestamp            time.Time             `json:"timestamp"`
	Created              time.Time             `json:"created"`
	Updated              time.Time             `json:"updated"`
	LastProcessedMessage uint64                `json:"last_processed_message"`
	Workspaces           []WorkspaceEntry      `json:"workspaces"`
}

// LocalUserManifest is the device copy of the user manifest: the remote
// version it derives from plus local changes not yet synced.
type LocalUserManifest struct {
	Base                 UserManifest     `json:"base"`
	NeedSync             bool             `json:"need_sync"`
	Updated              time.Time        `json:"updated"`
	LastProcessedMessage uint64           `json:"last_processed_message"`
	Workspaces           []WorkspaceEntry `json:"workspaces"`
	// Speculative is set on a manifest created locally before the remote
	// one could be fetched.
	Speculative bool `json:"speculative"`
}

// NewSpeculativeUserManifest returns the placeholder used by a device that
// has never fetched its user manifest.
func NewSpeculativeUserManifest(id EntryID, author certificates.DeviceID, now time.Time) LocalUserManifest {
	return LocalUserManifest{
		Base:        UserManifest{ID: id, Author: author, Timestamp: now, Created: now, Updated: now},
		NeedSync:    true,
		Updated:     now,
		Speculative: true,
	}
}

// FromRemote returns the local manifest of a remote one with no local
// changes.
func FromRemote(remote UserManifest) LocalUserManifest {
	remote.Workspaces = cloneEntries(remote.Workspaces)
	return LocalUserManifest{
		Base:                 remote,
		Updated:              remote.Updated,
		LastProcessedMessage: remote.LastProcessedMessage,
		Workspaces:           cloneEntries(remote.Workspaces),
	}
}

// FolderManifest is the remote manifest of a folder.
type FolderManifest struct {
	ID        EntryID               `json:"id"`
	Parent    EntryID               `json:"parent"`
	Version   uint64                `json:"version"`
	Author    certificates.DeviceID `json:"author"`
	Timestamp time.Time             `json:"timestamp"`
	Created   time.Time             `json:"created"`
	Updated   time.Time             `json:"updated"`
	Children  map[string]EntryID    `json:"children"`
}

type LocalFolderManifest struct {
	Base        FolderManifest     `json:"base"`
	NeedSync    bool               `json:"need_sync"`
	Updated     time.Time          `json:"updated"`
	Children    map[string]EntryID `json:"children"`
	Speculative bool               `json:"speculative"`
}

// BlockAccess locates one block of a file. Block content itself is stored
// elsewhere.
type BlockAccess struct {
	ID     string `json:"id"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	Digest []byte `json:"digest"`
}

type FileManifest struct {
	ID        EntryID               `json:"id"`
	Parent    EntryID               `json:"parent"`
	Version   uint64                `json:"version"`
	Author    certificates.DeviceID `json:"author"`
	Timestamp time.Time             `json:"timestamp"`
	Created   time.Time             `json:"created"`
	Updated   time.Time             `json:"updated"`
	Size      uint64                `json:"size"`
	Blocksize uint64                `json:"blocksize"`
	Blocks    []BlockAccess         `json:"blocks"`
}

type LocalFileManifest struct {
	Base      FileManifest  `json:"base"`
	NeedSync  bool          `json:"need_sync"`
	Updated   time.Time     `json:"updated"`
	Size      uint64        `json:"size"`
	Blocksize uint64        `json:"blocksize"`
	Blocks    []BlockAccess `json:"blocks"`
}

func sameBlocks(a, b []BlockAccess) bool {
	return slices.EqualFunc(a, b, func(x, y BlockAccess) bool {
		return x.ID == y.ID && x.Offset == y.Offset && x.Size == y.Size && bytes.Equal(x.Digest, y.Digest)
	})
}

func cloneBlocks(in []BlockAccess) []BlockAccess {
	if in == nil {
		return nil
	}
	out := make([]BlockAccess, len(in))
	for i, b := range in {
		b.Digest = slices.Clone(b.Digest)
		out[i] = b
	}
	return out
}

func cloneChildren(in map[string]EntryID) map[string]EntryID {
	if in == nil {
		return map[string]EntryID{}
	}
	return maps.Clone(in)
}
