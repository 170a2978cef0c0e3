package memstore

import (
	"testing"

	"github.com/getlantern/sesame/testsupport"
)

func TestMemStore(t *testing.T) {
	store := New()
	defer store.Close()
	testsupport.TestStore(t, store)
}
