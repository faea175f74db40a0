package backlog

import "github.com/ostrea/backlog/id"

// ID is the primary identifier type for all backlog entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
