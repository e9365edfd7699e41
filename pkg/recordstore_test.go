package recordstore_test

import (
	"testing"

	"github.com/getpup/recordstore/pkg"
)

func TestVersion(t *testing.T) {
	version := recordstore.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
