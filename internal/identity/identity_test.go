package identity

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/rclonesync/internal/domain"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestMD5Hasher_KnownVectors(t *testing.T) {
	h := NewHasher()

	tests := []struct {
		input    string
		expected string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, h.Hash([]byte(tt.input)))
		})
	}
}

func TestStableID_Deterministic(t *testing.T) {
	h := NewHasher()

	first := StableID(h, "/data/photos", "b2:bucket/photos")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, StableID(h, "/data/photos", "b2:bucket/photos"))
	}
	assert.Regexp(t, hexDigest, first)
	assert.Len(t, first, DigestLength)
}

func TestStableID_DistinctPairs(t *testing.T) {
	h := NewHasher()

	pairs := []domain.Pair{
		{Source: "/data/a", Destination: "/backup/a"},
		{Source: "/data/a", Destination: "/backup/b"},
		{Source: "/data/b", Destination: "/backup/a"},
		{Source: "/backup/a", Destination: "/data/a"},
		{Source: "gdrive:", Destination: "/mnt/gdrive"},
		{Source: "/mnt/gdrive", Destination: "gdrive:"},
	}

	seen := make(map[string]domain.Pair)
	for _, p := range pairs {
		id := StableID(h, p.Source, p.Destination)
		if prev, ok := seen[id]; ok {
			t.Fatalf("pairs %+v and %+v share id %s", prev, p, id)
		}
		seen[id] = p
	}
}

func TestStableID_ConcatenationAmbiguity(t *testing.T) {
	h := NewHasher()

	// No separator between the halves: these two pairs collide.
	assert.Equal(t, StableID(h, "ab", "c"), StableID(h, "a", "bc"))
}

func TestRunID(t *testing.T) {
	h := NewHasher()
	stable := StableID(h, "/src", "/dst")
	start := time.Unix(1700000000, 0)

	id := RunID(h, start, stable)
	assert.Equal(t, h.Hash([]byte("1700000000"+stable)), id)

	// Same second, same id; the sub-second part is ignored
	assert.Equal(t, id, RunID(h, start.Add(500*time.Millisecond), stable))
	assert.NotEqual(t, id, RunID(h, start.Add(time.Second), stable))
}

func TestNew(t *testing.T) {
	h := NewHasher()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pair := domain.Pair{Source: "/src", Destination: "remote:dst"}

	ident := New(h, pair, start)
	require.Regexp(t, hexDigest, ident.StableID)
	require.Regexp(t, hexDigest, ident.RunID)
	assert.Equal(t, StableID(h, pair.Source, pair.Destination), ident.StableID)
	assert.Equal(t, start, ident.StartTime)
	assert.Len(t, ident.ShortRunID(), 7)
	assert.Equal(t, ident.RunID[:7], ident.ShortRunID())
}
