// Package idgen produces the two identifier kinds used across the control
// plane: SHA-256 job hashes derived from a microsecond timestamp, and
// human-readable two-word tags ("wise penguin") used for job labels and
// WebSocket session ids.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// TwoWordPattern matches a valid two-word identifier: two lowercase ASCII
// words separated by a single space.
var TwoWordPattern = regexp.MustCompile(`^[a-z]+\s[a-z]+$`)

var adjectives = []string{
	"able", "bold", "calm", "clever", "deft", "eager", "fond", "gentle",
	"happy", "keen", "lucid", "merry", "nimble", "plucky", "quick", "sly",
	"spry", "stout", "swift", "wise",
}

var nouns = []string{
	"badger", "condor", "dolphin", "falcon", "gecko", "heron", "ibex",
	"jackal", "koala", "lemur", "marmot", "narwhal", "otter", "penguin",
	"quokka", "raven", "seal", "tapir", "walrus", "yak",
}

var (
	mu       sync.Mutex
	lastUsec int64
)

// JobHash returns a stable SHA-256 hex digest over the current microsecond
// timestamp. Consecutive calls within the same microsecond are bumped
// forward so the hash is unique within a process.
func JobHash() string {
	mu.Lock()
	usec := time.Now().UnixMicro()
	if usec <= lastUsec {
		usec = lastUsec + 1
	}
	lastUsec = usec
	mu.Unlock()

	sum := sha256.Sum256([]byte(strconv.FormatInt(usec, 10)))
	return hex.EncodeToString(sum[:])
}

// TwoWordTag returns a random adjective-noun pair such as "wise penguin".
// The result always matches TwoWordPattern.
func TwoWordTag() string {
	return adjectives[rand.Intn(len(adjectives))] + " " + nouns[rand.Intn(len(nouns))]
}

// ValidTwoWord reports whether s is a well-formed two-word identifier.
func ValidTwoWord(s string) bool {
	return TwoWordPattern.MatchString(s)
}
