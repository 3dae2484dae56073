package catalog

import (
	"context"
	"os"
	"testing"

	pgtesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/postgres/testing"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
)

var (
	sharedDB *pgtesting.DB
)

func TestMain(m *testing.M) {
	log := laketesting.NewLogger()
	var err error
	sharedDB, err = pgtesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

func testBackends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory":   NewMemoryBackend(),
		"postgres": NewPostgresBackend(pgtesting.NewTestPool(t, sharedDB)),
	}
}
