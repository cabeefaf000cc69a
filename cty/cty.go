// Package cty resolves call signs to DXCC entities using the country-files
// cty.plist database, so logged contacts get a country even when the operator
// leaves it blank.
package cty

import (
	"fmt"
	"io"
	"os"
	"strings"

	"howett.net/plist"
)

// Entity describes one cty.plist entry.
type Entity struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	GMTOffset     float64 `plist:"GMTOffset"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

// Database answers longest-prefix lookups over the plist keys. It is
// read-only after Load and safe for concurrent use.
type Database struct {
	entries map[string]Entity
	trie    trie
}

// trie is a read-only prefix trie over plist keys. Walking a call sign from
// the root and remembering the last terminal node yields the longest matching
// prefix in O(len(call)).
type trie struct {
	nodes []trieNode
}

type trieNode struct {
	next        map[byte]int
	terminalKey string
}

func buildTrie(keys []string) trie {
	tr := trie{nodes: []trieNode{{next: make(map[byte]int)}}}
	for _, key := range keys {
		if key == "" {
			continue
		}
		state := 0
		for i := 0; i < len(key); i++ {
			next := tr.nodes[state].next
			if next == nil {
				next = make(map[byte]int)
				tr.nodes[state].next = next
			}
			child, ok := next[key[i]]
			if !ok {
				child = len(tr.nodes)
				tr.nodes = append(tr.nodes, trieNode{})
				next[key[i]] = child
			}
			state = child
		}
		tr.nodes[state].terminalKey = key
	}
	return tr
}

func (tr *trie) longestPrefix(call string) (string, bool) {
	if len(tr.nodes) == 0 || call == "" {
		return "", false
	}
	state := 0
	best := ""
	for i := 0; i < len(call); i++ {
		child, ok := tr.nodes[state].next[call[i]]
		if !ok {
			break
		}
		state = child
		if key := tr.nodes[state].terminalKey; key != "" {
			best = key
		}
	}
	return best, best != ""
}

// Load reads a cty.plist file.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cty: open plist: %w", err)
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader decodes plist data from r. Keys are upper-cased.
func LoadReader(r io.ReadSeeker) (*Database, error) {
	var raw map[string]Entity
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("cty: decode plist: %w", err)
	}
	entries := make(map[string]Entity, len(raw))
	keys := make([]string, 0, len(raw))
	for k, v := range raw {
		norm := strings.ToUpper(strings.TrimSpace(k))
		if norm == "" {
			continue
		}
		entries[norm] = v
		keys = append(keys, norm)
	}
	return &Database{entries: entries, trie: buildTrie(keys)}, nil
}

// Len reports the number of plist keys.
func (db *Database) Len() int {
	if db == nil {
		return 0
	}
	return len(db.entries)
}

// operatingSuffixes never identify an entity on their own.
var operatingSuffixes = map[string]bool{
	"P": true, "M": true, "MM": true, "AM": true, "QRP": true, "B": true,
}

// Purpose: Resolve a call sign to its entity.
// Key aspects: Exact keys win; portable calls (W6/K1ABC, K1ABC/W6) try the
// shortest non-suffix segment first, then the full call.
// Upstream: CLI log and lookup commands.
// Downstream: lookup.
func (db *Database) Lookup(call string) (Entity, bool) {
	if db == nil {
		return Entity{}, false
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	if call == "" {
		return Entity{}, false
	}
	if e, ok := db.entries[call]; ok {
		return e, true
	}
	if !strings.Contains(call, "/") {
		return db.lookup(call)
	}

	var segments []string
	for _, seg := range strings.Split(call, "/") {
		if seg != "" && !operatingSuffixes[seg] {
			segments = append(segments, seg)
		}
	}
	if len(segments) > 1 {
		shortest := segments[0]
		for _, seg := range segments[1:] {
			if len(seg) < len(shortest) {
				shortest = seg
			}
		}
		if e, ok := db.lookup(shortest); ok {
			return e, true
		}
	}
	if e, ok := db.lookup(call); ok {
		return e, true
	}
	if len(segments) == 1 {
		return db.lookup(segments[0])
	}
	return Entity{}, false
}

func (db *Database) lookup(call string) (Entity, bool) {
	if e, ok := db.entries[call]; ok {
		return e, true
	}
	if key, ok := db.trie.longestPrefix(call); ok {
		return db.entries[key], true
	}
	return Entity{}, false
}

// Country returns the entity name for call, or "" when unknown.
func (db *Database) Country(call string) string {
	e, ok := db.Lookup(call)
	if !ok {
		return ""
	}
	return e.Country
}
