package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Endpoint is one provisioned forwarding API, keyed by its id within a region.
type Endpoint struct {
	bun.BaseModel `bun:"table:endpoints,alias:e"`

	ID        string    `bun:",pk"`
	Region    string    `bun:",pk"`
	Address   string    `bun:",notnull"`
	PoolName  string    `bun:",notnull"`
	RunID     string    `bun:",notnull"`
	Reused    bool      `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	DeletedAt time.Time `bun:",nullzero"`
}

// Live reports whether the endpoint has not been torn down.
func (e *Endpoint) Live() bool {
	return e.DeletedAt.IsZero()
}
