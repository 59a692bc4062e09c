package certificates

import "fmt"

type TopicKind string

const (
	TopicCommon         TopicKind = "common"
	TopicSequester      TopicKind = "sequester"
	TopicShamirRecovery TopicKind = "shamir_recovery"
	TopicRealm          TopicKind = "realm"
)

// Topic is a namespace of certificates sharing one monotonic timestamp
// ordering. RealmID is only set for realm topics.
type Topic struct {
	Kind    TopicKind
	RealmID RealmID
}

var (
	CommonTopic         = Topic{Kind: TopicCommon}
	SequesterTopic      = Topic{Kind: TopicSequester}
	ShamirRecoveryTopic = Topic{Kind: TopicShamirRecovery}
)

func RealmTopic(id RealmID) Topic { return Topic{Kind: TopicRealm, RealmID: id} }

// Key is the storage key of the topic: "common", "realm:<id>", ...
func (t Topic) Key() string {
	if t.Kind == TopicRealm {
		return fmt.Sprintf("%s:%s", t.Kind, t.RealmID)
	}
	return string(t.Kind)
}

func (t Topic) String() string { return t.Key() }
