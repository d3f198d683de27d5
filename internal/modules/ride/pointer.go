// README: Passenger "active ride" pointer kept in the session store.
package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ridehail/internal/modules/session"
	"ridehail/internal/types"
)

const activeRideKeyPrefix = "ride:active:"

// pointerTTL bounds how long a forgotten pointer survives a crashed client.
const pointerTTL = 24 * time.Hour

type ActivePointer struct {
	RideID          types.ID       `json:"rideId"`
	LastKnownDriver *DriverDetails `json:"lastKnownDriver,omitempty"`
}

type pointerStore struct {
	kv session.Store
}

func activeRideKey(passengerID types.ID) string {
	return activeRideKeyPrefix + string(passengerID)
}

func (p pointerStore) get(ctx context.Context, passengerID types.ID) (*ActivePointer, error) {
	raw, ok, err := p.kv.Get(ctx, activeRideKey(passengerID))
	if err != nil || !ok {
		return nil, err
	}
	var ptr ActivePointer
	if err := json.Unmarshal([]byte(raw), &ptr); err != nil {
		return nil, fmt.Errorf("decode active ride pointer: %w", err)
	}
	return &ptr, nil
}

func (p pointerStore) put(ctx context.Context, passengerID types.ID, ptr ActivePointer) error {
	raw, err := json.Marshal(ptr)
	if err != nil {
		return err
	}
	return p.kv.Set(ctx, activeRideKey(passengerID), string(raw), pointerTTL)
}

func (p pointerStore) clear(ctx context.Context, passengerID types.ID) error {
	return p.kv.Delete(ctx, activeRideKey(passengerID))
}
