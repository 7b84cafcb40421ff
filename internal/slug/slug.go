package slug

import (
	"fmt"
	"math/rand/v2"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces build identifiers.
type Generator interface {
	Generate() string
}

// Func adapts a plain function to Generator.
type Func func() string

// Generate calls f.
func (f Func) Generate() string { return f() }

// New returns the generator for style: "words" (default), "uuid" or "ulid".
func New(style string) Generator {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "uuid":
		return UUID{}
	case "ulid":
		return ULID{}
	default:
		return Words{}
	}
}

// Words yields readable slugs such as "quickly-brave-otter-3f9a".
type Words struct{}

// Generate returns a three word pet name followed by four hex digits.
func (Words) Generate() string {
	return fmt.Sprintf("%s-%04x", strings.ToLower(petname.Generate(wordCount, "-")), rand.IntN(1<<16))
}

const wordCount = 3

// UUID yields random v4 UUIDs.
type UUID struct{}

// Generate returns a new UUID string.
func (UUID) Generate() string {
	return uuid.NewString()
}

// ULID yields lower-cased ULIDs, which sort by creation time.
type ULID struct{}

// Generate returns a new ULID string.
func (ULID) Generate() string {
	return strings.ToLower(ulid.Make().String())
}
