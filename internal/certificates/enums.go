package certificates

import "fmt"

type UserProfile string

const (
	ProfileAdmin    UserProfile = "ADMIN"
	ProfileStandard UserProfile = "STANDARD"
	ProfileOutsider UserProfile = "OUTSIDER"
)

func (p UserProfile) Valid() bool {
	switch p {
	case ProfileAdmin, ProfileStandard, ProfileOutsider:
		return true
	}
	return false
}

// ParseUserProfile accepts the upper-case names used on the wire.
func ParseUserProfile(s string) (UserProfile, error) {
	p := UserProfile(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown user profile %q", s)
	}
	return p, nil
}

type RealmRole string

const (
	RoleOwner       RealmRole = "OWNER"
	RoleManager     RealmRole = "MANAGER"
	RoleContributor RealmRole = "CONTRIBUTOR"
	RoleReader      RealmRole = "READER"
)

func (r RealmRole) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleContributor, RoleReader:
		return true
	}
	return false
}

// CanGrantOwnerOrManager reports whether the role is allowed to hand out (or
// take back) the OWNER and MANAGER roles.
func (r RealmRole) CanGrantOwnerOrManager() bool { return r == RoleOwner }

// IsOwnerOrManager reports whether r is one of the two administrative roles.
func IsOwnerOrManager(r *RealmRole) bool {
	return r != nil && (*r == RoleOwner || *r == RoleManager)
}

func ParseRealmRole(s string) (RealmRole, error) {
	r := RealmRole(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown realm role %q", s)
	}
	return r, nil
}

// RolePtr is a helper for building role certificates.
func RolePtr(r RealmRole) *RealmRole { return &r }

// Universe is the certificate set a device is allowed to hold.
type Universe string

const (
	UniverseFull     Universe = "full"
	UniverseRedacted Universe = "redacted"
)

// UniverseFor returns the universe a user with this profile must hold.
func UniverseFor(p UserProfile) Universe {
	if p == ProfileOutsider {
		return UniverseRedacted
	}
	return UniverseFull
}

type RealmArchivingConfiguration string

const (
	ArchivingAvailable       RealmArchivingConfiguration = "AVAILABLE"
	ArchivingArchived        RealmArchivingConfiguration = "ARCHIVED"
	ArchivingDeletionPlanned RealmArchivingConfiguration = "DELETION_PLANNED"
)
