package modbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mongoTestURIEnv must be set to a mongodb connection URI to run the
// mongo store tests. Each test gets its own database, dropped on cleanup.
const mongoTestURIEnv = "MODBOT_TEST_MONGO_URI"

func newTestMongoStore(t *testing.T) Store {
	t.Helper()
	uri := os.Getenv(mongoTestURIEnv)
	if uri == "" {
		t.Skipf("%s not set", mongoTestURIEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	dbName := fmt.Sprintf("modbot_test_%d", time.Now().UnixNano())
	store, err := newMongoStore(ctx, uri, dbName, slog.Default().Handler())
	require.NoError(t, err)
	t.Cleanup(
		func() {
			cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cleanupCancel()
			if dropErr := store.db.Drop(cleanupCtx); dropErr != nil {
				t.Logf("error dropping %s: %v", dbName, dropErr)
			}
			_ = store.Close(cleanupCtx)
		},
	)
	return store
}

func TestMongoStore(t *testing.T) {
	if os.Getenv(mongoTestURIEnv) == "" {
		t.Skipf("%s not set", mongoTestURIEnv)
	}
	testStore(t, newTestMongoStore)
}
