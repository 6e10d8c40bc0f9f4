package utils

import (
	"strings"

	"github.com/gofrs/uuid"
)

var namespace = uuid.Must(uuid.FromString("3b1f6f5e-8d0c-4c47-9a3e-2f6d1c7b5a90"))

// DeriveId returns the name based (md5, version 3) id of kind and parts.
// Part order matters.
func DeriveId(kind string, parts ...string) uuid.UUID {
	return uuid.NewV3(namespace, kind+"\x00"+strings.Join(parts, "\x00"))
}
