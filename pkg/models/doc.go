/*
Package models defines the records the endpoint ledger stores.

Endpoint represents one forwarding API created or reused by a pool:

	type Endpoint struct {
		ID        string    // Remote API id, unique within a region
		Region    string    // Region the API lives in
		Address   string    // Host name requests are sent to
		PoolName  string    // Name shared by every API of a pool
		RunID     string    // Provisioning run that last saw the API
		Reused    bool      // Discovered rather than created
		CreatedAt time.Time // First time the API was recorded
		UpdatedAt time.Time // Last time the API was recorded
		DeletedAt time.Time // Teardown time, zero while live
	}

Database Integration:

Endpoints are stored in the endpoints table with (id, region) as primary key.
Recording the same API again, for example when a later run reuses it, updates
the row in place and clears DeletedAt.

Usage Example:

	ep := &models.Endpoint{
		ID:       "a1b2c3d4e5",
		Region:   "eu-west-1",
		Address:  "a1b2c3d4e5.execute-api.eu-west-1.amazonaws.com",
		PoolName: "IP Rotator for https://example.com",
		RunID:    uuid.NewString(),
	}

Thread Safety:

The model structures themselves are not thread-safe. Synchronization should be
handled at the database layer when performing concurrent operations on these
models.
*/
package models
