package progressive

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMergeWithoutDetailIsMetadata(t *testing.T) {
	meta := Record{"id": "1", "diagnosis": "nevus", "hasDetails": true}

	got := Merge(meta, nil)

	if diff := cmp.Diff(meta, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	got["diagnosis"] = "changed"
	assert.Equal(t, "nevus", meta["diagnosis"], "merge must copy")
}

func TestMergeDetailOverlaysMetadata(t *testing.T) {
	meta := Record{"id": "1", "diagnosis": "nevus", "hasDetails": true}
	detail := Record{"id": "1", "diagnosis": "dysplastic nevus", "url": "https://x/1"}

	want := Record{
		"id":         "1",
		"diagnosis":  "dysplastic nevus",
		"url":        "https://x/1",
		"hasDetails": true,
	}
	if diff := cmp.Diff(want, Merge(meta, detail)); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "abc", Record{"id": "abc"}.ID())
	assert.Equal(t, "42", Record{"id": float64(42)}.ID())
	assert.Equal(t, "7", Record{"id": 7}.ID())
	assert.Empty(t, Record{}.ID())
}

func TestFilterKeyIsCanonical(t *testing.T) {
	a := Filter{Category: "derm", Search: "nevus"}
	b := FilterFromValues(url.Values{"search": {"nevus"}, "category": {"derm"}})

	assert.Equal(t, a, b)
	assert.Equal(t, "metadata?category=derm&search=nevus", a.Key())
	assert.Equal(t, "metadata", Filter{}.Key())
	assert.NotEqual(t, a.Key(), Filter{Category: "derm"}.Key())
}
