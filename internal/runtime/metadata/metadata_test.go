package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.Len(t, clone, 2)
}

func TestNilMetadata(t *testing.T) {
	var m Metadata
	assert.NotNil(t, m.Clone())
	assert.Empty(t, m.Get("missing"))
	assert.Empty(t, m.Keys())
}

func TestWithLayersEntries(t *testing.T) {
	base := Metadata{"operation": "create"}
	enriched := base.With("ttlInSeconds", "60").WithAll(Metadata{"operation": "get"})

	assert.Equal(t, "create", base["operation"])
	assert.Equal(t, Metadata{"operation": "get", "ttlInSeconds": "60"}, enriched)
}

func TestKeysSorted(t *testing.T) {
	md := New("b", "2", "a", "1", "c")
	assert.Equal(t, []string{"a", "b"}, md.Keys())
}

func TestWatermillConversionCopies(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	wm["source"] = "mutation"
	assert.Equal(t, "api", md["source"])

	back := FromWatermill(message.Metadata{"event": "order"})
	assert.Equal(t, "order", back.Get("event"))
	assert.NotNil(t, FromWatermill(nil))
}
