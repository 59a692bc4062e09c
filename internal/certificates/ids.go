package certificates

import "github.com/google/uuid"

type (
	UserID             string
	DeviceID           string
	RealmID            string
	SequesterServiceID string
)

func NewUserID() UserID                         { return UserID(uuid.NewString()) }
func NewDeviceID() DeviceID                     { return DeviceID(uuid.NewString()) }
func NewRealmID() RealmID                       { return RealmID(uuid.NewString()) }
func NewSequesterServiceID() SequesterServiceID { return SequesterServiceID(uuid.NewString()) }

// RootAuthor is the author of certificates signed by the organization root
// key during bootstrap.
const RootAuthor DeviceID = ""

func (d DeviceID) IsRoot() bool { return d == RootAuthor }

func (d DeviceID) String() string {
	if d.IsRoot() {
		return "<root>"
	}
	return string(d)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
