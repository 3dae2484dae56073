package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLake_Lakeflow_BookkeepingWarning(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		storage  string
		postgres bool
		warn     bool
	}{
		{storage: storageFile, warn: true},
		{storage: storageS3, warn: true},
		{storage: storageMemory},
		{storage: storageFile, postgres: true},
		{storage: storageS3, postgres: true},
	} {
		msg := bookkeepingWarning(tc.storage, tc.postgres)
		if tc.warn {
			require.Contains(t, msg, "--postgres", "%s postgres=%v", tc.storage, tc.postgres)
		} else {
			require.Empty(t, msg, "%s postgres=%v", tc.storage, tc.postgres)
		}
	}
}
