// Package all registers every source backend with the source factory.
// cmd binaries blank-import this package; config selects which backend
// actually runs.
package all

import (
	_ "spsync/internal/source/postgres"
	_ "spsync/internal/source/sqlite"
	_ "spsync/internal/source/synapse"
)
