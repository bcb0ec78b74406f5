package topic

import "strings"

// FilterMatches reports whether topicName matches filter per §4.7,
// applying the same $-prefixed system-topic exclusion (§4.7.2) and
// $share/<group>/ prefix handling (§4.8.2) as Trie.Match. It exists
// for callers that need a one-off match against a single filter (e.g.
// a session recomputing the maximum QoS for one of its own
// subscriptions) without walking the whole trie.
func FilterMatches(filter, topicName string) bool {
	_, rest, _ := splitFilter(filter)
	fsegs := strings.Split(rest, "/")
	tsegs := strings.Split(topicName, "/")
	systemTopic := len(tsegs) > 0 && strings.HasPrefix(tsegs[0], "$")

	var match func(i, j int) bool
	match = func(i, j int) bool {
		if i == len(fsegs) {
			return j == len(tsegs)
		}
		seg := fsegs[i]
		if seg == "#" {
			if j == 0 && systemTopic {
				return false
			}
			return true
		}
		if j == len(tsegs) {
			return false
		}
		if seg == "+" {
			if j == 0 && systemTopic {
				return false
			}
			return match(i+1, j+1)
		}
		if seg != tsegs[j] {
			return false
		}
		return match(i+1, j+1)
	}
	return match(0, 0)
}
