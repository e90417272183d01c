package psql

// capabilities table tracks schema versions of components

import (
	"fmt"
	"strings"
)

const currDBVersion = "partsrv0"

var dbInitStatements = []string{
	`CREATE TABLE capabilities (
	component TEXT NOT NULL PRIMARY KEY,
	version   TEXT NOT NULL
)`,
	`INSERT INTO capabilities(component,version) VALUES ('','` + currDBVersion + `')`,
}

func (sp PSQL) InitDB() error {
	var charset string
	err := sp.DB.
		QueryRow(`SELECT character_set_name FROM information_schema.character_sets`).
		Scan(&charset)
	if err != nil {
		return sp.sqlError("charset query", err)
	}
	if !strings.EqualFold(charset, "UTF8") {
		return fmt.Errorf(
			"bad database charset: expected \"UTF8\" got %q", charset)
	}

	tx, err := sp.DB.Beginx()
	if err != nil {
		return sp.sqlError("tx begin", err)
	}
	for i := range dbInitStatements {
		_, err = tx.Exec(dbInitStatements[i])
		if err != nil {
			_ = tx.Rollback()
			return sp.sqlError(fmt.Sprintf("init statement %d", i), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return sp.sqlError("tx commit", err)
	}
	return nil
}

func (sp PSQL) IsValidDB() (bool, error) {
	var exists bool
	err := sp.DB.
		QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = 'capabilities')`).
		Scan(&exists)
	if err != nil {
		return false, sp.sqlError("capabilities table query", err)
	}
	return exists, nil
}

func (sp PSQL) CheckVersion() error {
	var ver string
	err := sp.DB.
		QueryRow("SELECT version FROM capabilities WHERE component = '' LIMIT 1").
		Scan(&ver)
	if err != nil {
		return sp.sqlError("version row query", err)
	}
	if ver != currDBVersion {
		return fmt.Errorf("incorrect database version: %q (our: %q)", ver, currDBVersion)
	}
	return nil
}
