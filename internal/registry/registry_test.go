package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryServesFromCacheWithinTTL(t *testing.T) {
	r := New(nil, 50*time.Millisecond)
	r.byID["srv1"] = cached{entry: &Entry{}, expiresAt: time.Now().Add(time.Hour)}

	entry, err := r.Get(nil, "srv1")
	assert.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestRegistryInvalidateDropsEntry(t *testing.T) {
	r := New(nil, time.Hour)
	r.byID["srv1"] = cached{entry: &Entry{}, expiresAt: time.Now().Add(time.Hour)}

	r.Invalidate("srv1")

	r.mu.RLock()
	_, ok := r.byID["srv1"]
	r.mu.RUnlock()
	assert.False(t, ok)
}
