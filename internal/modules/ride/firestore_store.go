// README: Ride store backed by a Firestore collection.
package ride

import (
	"context"
	"errors"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridehail/internal/types"
)

type FirestoreStore struct {
	client     *firestore.Client
	collection string
	log        *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, collection string, log *slog.Logger) *FirestoreStore {
	if collection == "" {
		collection = "rides"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FirestoreStore{client: client, collection: collection, log: log}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Create(ctx context.Context, r *Ride) error {
	ref := s.col().NewDoc()
	if _, err := ref.Create(ctx, r); err != nil {
		return err
	}
	// Read back to pick up the server-assigned creation time.
	snap, err := ref.Get(ctx)
	if err != nil {
		return err
	}
	stored, err := decodeRide(snap)
	if err != nil {
		return err
	}
	*r = stored
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	snap, err := s.col().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeRide(snap)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Transition reads and writes inside one Firestore transaction, so two
// drivers accepting the same ride cannot both commit.
func (s *FirestoreStore) Transition(ctx context.Context, t Transition) (*Ride, error) {
	ref := s.col().Doc(string(t.RideID))
	var out Ride
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRide(snap)
		if err != nil {
			return err
		}
		next, err := t.apply(cur)
		if err != nil {
			return err
		}
		out = next
		return tx.Set(ref, &next)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st Status, limit int) ([]Ride, error) {
	q := s.col().Where("status", "==", string(st)).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collect(q.Documents(ctx))
}

func (s *FirestoreStore) ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit int) ([]Ride, error) {
	q := s.col().Where("passengerId", "==", string(passengerID))
	if len(statuses) > 0 {
		in := make([]string, len(statuses))
		for i, st := range statuses {
			in[i] = string(st)
		}
		q = q.Where("status", "in", in)
	}
	q = q.OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collect(q.Documents(ctx))
}

func (s *FirestoreStore) WatchRide(ctx context.Context, id types.ID) (<-chan Ride, error) {
	ref := s.col().Doc(string(id))
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	it := ref.Snapshots(ctx)
	out := make(chan Ride)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				s.logListenerExit(ctx, "ride", err)
				return
			}
			if !snap.Exists() {
				return
			}
			r, err := decodeRide(snap)
			if err != nil {
				s.log.Warn("skipping undecodable ride snapshot", "ride_id", id, "error", err)
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *FirestoreStore) WatchStatus(ctx context.Context, st Status) (<-chan []Ride, error) {
	it := s.col().Where("status", "==", string(st)).OrderBy("createdAt", firestore.Desc).Snapshots(ctx)
	out := make(chan []Ride)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				s.logListenerExit(ctx, string(st), err)
				return
			}
			list, err := collect(qs.Documents)
			if err != nil {
				s.log.Warn("skipping undecodable feed snapshot", "status", st, "error", err)
				continue
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *FirestoreStore) logListenerExit(ctx context.Context, what string, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
		return
	}
	s.log.Error("firestore listener failed", "watch", what, "error", err)
}

func collect(it *firestore.DocumentIterator) ([]Ride, error) {
	defer it.Stop()
	out := make([]Ride, 0)
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		r, err := decodeRide(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
}

func decodeRide(snap *firestore.DocumentSnapshot) (Ride, error) {
	var r Ride
	if err := snap.DataTo(&r); err != nil {
		return Ride{}, err
	}
	r.ID = types.ID(snap.Ref.ID)
	return r, nil
}
