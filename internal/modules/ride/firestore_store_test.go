// README: Firestore store tests against the emulator (skipped unless FIRESTORE_EMULATOR_HOST is set).
package ride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"ridehail/internal/types"
)

func setupFirestoreStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore ride store tests")
	}
	client, err := firestore.NewClient(context.Background(), "ridehail-test")
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	collection := fmt.Sprintf("rides_test_%d", time.Now().UnixNano())
	return NewFirestoreStore(client, collection, nil)
}

func TestFirestoreStoreConcurrentAccept(t *testing.T) {
	store := setupFirestoreStore(t)
	ctx := context.Background()
	r := mustCreate(t, store, "p_fs_race")
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("create did not assign id and timestamp: %+v", r)
	}

	const attempts = 5
	start := make(chan struct{})
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			<-start
			_, err := store.Transition(ctx, acceptTransition(r.ID, did))
			errs <- err
		}(types.ID(fmt.Sprintf("d%d", i)))
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

func TestFirestoreStoreWatchRide(t *testing.T) {
	store := setupFirestoreStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := mustCreate(t, store, "p_fs_watch")
	ch, err := store.WatchRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if got := receiveRide(t, ch); got.Status != StatusPending || got.ID != r.ID {
		t.Fatalf("initial snapshot: %+v", got)
	}
	mustTransition(t, store, acceptTransition(r.ID, "d1"))
	if got := receiveRide(t, ch); got.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
}
