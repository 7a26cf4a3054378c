package cmd

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/strata-etl/strata/internal/store"
)

// stores bundles the opened storage layers for one command invocation.
type stores struct {
	bronzeDB    *sql.DB
	silverDB    *sql.DB
	bronze      *store.Bronze
	checkpoints *store.Checkpoints
	silver      *store.Silver
}

func openStores() (*stores, error) {
	for _, path := range []string{cfg.BronzeDB, cfg.SilverDB} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	bronzeDB, err := store.Open(cfg.BronzeDB)
	if err != nil {
		return nil, err
	}
	silverDB, err := store.Open(cfg.SilverDB)
	if err != nil {
		_ = bronzeDB.Close()
		return nil, err
	}

	s := &stores{bronzeDB: bronzeDB, silverDB: silverDB}
	if s.bronze, err = store.NewBronze(bronzeDB); err != nil {
		s.close()
		return nil, err
	}
	if s.checkpoints, err = store.NewCheckpoints(bronzeDB); err != nil {
		s.close()
		return nil, err
	}
	if s.silver, err = store.NewSilver(silverDB); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *stores) close() {
	_ = s.bronzeDB.Close()
	_ = s.silverDB.Close()
}
