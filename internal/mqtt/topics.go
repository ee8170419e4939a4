package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "evon"

// Topics builds topic names under a common prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Change returns the topic for one property of one instance.
func (t Topics) Change(instanceID, property string) string {
	return t.prefix() + "/" + sanitizeSegment(instanceID) + "/" + sanitizeSegment(property)
}

// Status returns the retained online/offline topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

var segmentReplacer = strings.NewReplacer("+", "_", "#", "_", "/", "_")

// sanitizeSegment keeps wildcard and level separators out of a topic level.
func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}
