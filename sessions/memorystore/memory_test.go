package memorystore

import (
	"testing"

	"github.com/ggoodman/recordsportal/sessions"
	"github.com/ggoodman/recordsportal/sessions/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) sessions.Store {
		return New()
	})
}
