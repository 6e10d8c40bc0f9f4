package utils

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeriveId(t *testing.T) {
	id := DeriveId("obligation", "market", "alice")
	assert.Equal(t, id, DeriveId("obligation", "market", "alice"))
	assert.Equal(t, byte(3), id.Version())
	assert.Equal(t, uuid.VariantRFC4122, id.Variant())

	assert.NotEqual(t, id, DeriveId("obligation", "alice", "market"))
	assert.NotEqual(t, id, DeriveId("reserve", "market", "alice"))
	assert.NotEqual(t, DeriveId("x", "ab", "c"), DeriveId("x", "a", "bc"))
}
