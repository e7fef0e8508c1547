package watchledger

import "github.com/xraph/watchledger/id"

// ID is the identifier type for engine-minted records.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
