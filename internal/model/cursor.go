package model

import "time"

// ShardCursor is a position in the partitioned item space. The zero value
// means "first shard, offset zero".
type ShardCursor struct {
	ShardID       string    `json:"shard_id"`
	Offset        int       `json:"offset"`
	ShardComplete bool      `json:"shard_complete"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// IsZero reports whether no shard has been started yet.
func (c ShardCursor) IsZero() bool {
	return c.ShardID == "" && c.Offset == 0 && !c.ShardComplete
}
