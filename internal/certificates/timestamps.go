package certificates

import (
	"maps"
	"time"
)

// PerTopicLastTimestamps is the high-water mark of accepted certificate
// timestamps per topic. A zero time means no certificate for that topic.
type PerTopicLastTimestamps struct {
	Common         time.Time
	Sequester      time.Time
	ShamirRecovery time.Time
	Realm          map[RealmID]time.Time
}

// Get returns the last timestamp of the topic and whether one exists.
func (p PerTopicLastTimestamps) Get(t Topic) (time.Time, bool) {
	var ts time.Time
	switch t.Kind {
	case TopicCommon:
		ts = p.Common
	case TopicSequester:
		ts = p.Sequester
	case TopicShamirRecovery:
		ts = p.ShamirRecovery
	case TopicRealm:
		ts = p.Realm[t.RealmID]
	}
	return ts, !ts.IsZero()
}

// Advance moves the topic mark forward to ts; older values are ignored.
func (p *PerTopicLastTimestamps) Advance(t Topic, ts time.Time) {
	if cur, ok := p.Get(t); ok && !ts.After(cur) {
		return
	}
	switch t.Kind {
	case TopicCommon:
		p.Common = ts
	case TopicSequester:
		p.Sequester = ts
	case TopicShamirRecovery:
		p.ShamirRecovery = ts
	case TopicRealm:
		if p.Realm == nil {
			p.Realm = make(map[RealmID]time.Time)
		}
		p.Realm[t.RealmID] = ts
	}
}

// IsUpToDate reports whether a certificate stamped ts on topic t is already
// covered by the ledger.
func (p PerTopicLastTimestamps) IsUpToDate(t Topic, ts time.Time) bool {
	cur, ok := p.Get(t)
	return ok && !cur.Before(ts)
}

// Covers reports whether every topic mark in requirements is reached.
func (p PerTopicLastTimestamps) Covers(requirements PerTopicLastTimestamps) bool {
	check := func(t Topic, ts time.Time) bool {
		return ts.IsZero() || p.IsUpToDate(t, ts)
	}
	if !check(CommonTopic, requirements.Common) ||
		!check(SequesterTopic, requirements.Sequester) ||
		!check(ShamirRecoveryTopic, requirements.ShamirRecovery) {
		return false
	}
	for id, ts := range requirements.Realm {
		if !check(RealmTopic(id), ts) {
			return false
		}
	}
	return true
}

func (p PerTopicLastTimestamps) Clone() PerTopicLastTimestamps {
	c := p
	c.Realm = maps.Clone(p.Realm)
	return c
}

// Requirement builds a single-topic requirement, the usual argument of a poll
// issued after uploading a certificate.
func Requirement(t Topic, ts time.Time) PerTopicLastTimestamps {
	var p PerTopicLastTimestamps
	p.Advance(t, ts)
	return p
}
