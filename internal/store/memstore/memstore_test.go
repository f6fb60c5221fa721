package memstore_test

import (
	"testing"

	"github.com/DukeRupert/tollgate/internal/store"
	"github.com/DukeRupert/tollgate/internal/store/memstore"
	"github.com/DukeRupert/tollgate/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memstore.New()
	})
}
