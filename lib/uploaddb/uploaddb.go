package uploaddb

// records of accepted form submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"partsrv/lib/psql"
	. "partsrv/lib/utils/logx"
)

const currDBVersion = "uploads0"

// maximum number of attempts for transactions failing
// due to serialization conflicts
const maxTxAttempts = 4

var ErrNotFound = errors.New("submission not found")

type Config struct {
	DB     *psql.PSQL
	Logger LoggerX
}

type UploadDB struct {
	db  *psql.PSQL
	log Logger
}

type Submission struct {
	ID     int64     `db:"s_id"`
	Key    string    `db:"s_key"`
	Added  time.Time `db:"s_added"`
	Remote string    `db:"s_remote"`
}

// Part is stored description of single form part.
// Hash is set for parts stored as files, Value for text fields.
type Part struct {
	Num         int    `db:"p_num" json:"num"`
	Name        string `db:"p_name" json:"name"`
	HasFileName bool   `db:"p_hasfn" json:"has_filename"`
	FileName    string `db:"p_filename" json:"filename,omitempty"`
	ContentType string `db:"p_ctype" json:"content_type"`
	Size        int64  `db:"p_size" json:"size"`
	Hash        string `db:"p_hash" json:"id,omitempty"`
	Value       string `db:"p_value" json:"value,omitempty"`
}

var dbInitStatements = []string{
	`CREATE TABLE submissions (
	s_id     BIGSERIAL                NOT NULL PRIMARY KEY,
	s_key    TEXT                     NOT NULL UNIQUE,
	s_added  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	s_remote TEXT                     NOT NULL
)`,
	`CREATE TABLE submission_parts (
	s_id       BIGINT  NOT NULL REFERENCES submissions ON DELETE CASCADE,
	p_num      INTEGER NOT NULL,
	p_name     TEXT    NOT NULL,
	p_hasfn    BOOLEAN NOT NULL,
	p_filename TEXT    NOT NULL,
	p_ctype    TEXT    NOT NULL,
	p_size     BIGINT  NOT NULL,
	p_hash     TEXT    NOT NULL,
	p_value    TEXT    NOT NULL,

	PRIMARY KEY (s_id, p_num)
)`,
	`CREATE INDEX ON submission_parts (p_hash) WHERE p_hash <> ''`,
}

func NewInitAndPrepare(cfg Config) (*UploadDB, error) {
	u := &UploadDB{
		db:  cfg.DB,
		log: NewLogToX(cfg.Logger, fmt.Sprintf("uploaddb.%p", cfg.DB)),
	}
	valid, err := u.CheckDB()
	if err != nil {
		return nil, err
	}
	if !valid {
		u.log.LogPrint(NOTICE, "uninitialized uploads schema, attempting to initialize")
		if err = u.InitDB(); err != nil {
			return nil, fmt.Errorf("error initializing uploads schema: %v", err)
		}
		valid, err = u.CheckDB()
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, errors.New("uploads schema still not valid after initialization")
		}
	}
	return u, nil
}

func (u *UploadDB) sqlError(when string, err error) error {
	return psql.ClassifyError(u.log, when, err)
}

func (u *UploadDB) InitDB() (err error) {
	tx, err := u.db.DB.BeginTxx(context.Background(), &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("err on BeginTx: %v", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := `INSERT INTO capabilities(component,version) VALUES ('uploads',$1)`
	if _, err = tx.Exec(q, currDBVersion); err != nil {
		return fmt.Errorf("err on version stmt: %v", err)
	}
	for i, s := range dbInitStatements {
		if _, err = tx.Exec(s); err != nil {
			return fmt.Errorf("err on stmt %d: %v", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("err on Commit: %v", err)
	}
	return
}

// CheckDB tells whether schema is initialised and of right version.
func (u *UploadDB) CheckDB() (initialised bool, versionerror error) {
	q := "SELECT version FROM capabilities WHERE component = 'uploads' LIMIT 1"
	var ver string
	err := u.db.DB.QueryRow(q).Scan(&ver)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, u.sqlError("version row query", err)
	}
	if ver != currDBVersion {
		return true, fmt.Errorf("incorrect uploads schema version: %q (our: %q)", ver, currDBVersion)
	}
	return true, nil
}

// StoreSubmission records submission with its parts.
// If submission with same key was already recorded,
// its ID is returned and dup is set.
func (u *UploadDB) StoreSubmission(
	ctx context.Context, key, remote string, parts []Part) (
	id int64, dup bool, err error) {

	for attempt := 1; ; attempt++ {
		id, dup, err = u.storeSubmission(ctx, key, remote, parts)
		var re psql.RetriableError
		if err == nil || !errors.As(err, &re) || attempt >= maxTxAttempts {
			return
		}
		u.log.LogPrintf(NOTICE, "retrying submission %q store (attempt %d): %v", key, attempt, err)
	}
}

func (u *UploadDB) storeSubmission(
	ctx context.Context, key, remote string, parts []Part) (
	id int64, dup bool, err error) {

	tx, err := u.db.DB.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return 0, false, u.sqlError("tx begin", err)
	}
	defer func() {
		if err != nil || dup {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO submissions(s_key,s_remote) VALUES ($1,$2) RETURNING s_id`,
		key, remote).Scan(&id)
	if err != nil {
		if psql.IsDuplicate(err) {
			// resubmission, find original
			dup = true
			_ = tx.Rollback()
			err = u.db.DB.QueryRowContext(ctx,
				`SELECT s_id FROM submissions WHERE s_key = $1`, key).Scan(&id)
			if err != nil {
				err = u.sqlError("duplicate submission query", err)
			}
			return
		}
		err = u.sqlError("submission insert", err)
		return
	}

	for i := range parts {
		p := &parts[i]
		p.Num = i
		_, err = tx.NamedExecContext(ctx, `INSERT INTO submission_parts
	(s_id,p_num,p_name,p_hasfn,p_filename,p_ctype,p_size,p_hash,p_value)
VALUES
	(:s_id,:p_num,:p_name,:p_hasfn,:p_filename,:p_ctype,:p_size,:p_hash,:p_value)`,
			partRow{ID: id, Part: *p})
		if err != nil {
			err = u.sqlError(fmt.Sprintf("part %d insert", i), err)
			return
		}
	}

	if err = tx.Commit(); err != nil {
		err = u.sqlError("tx commit", err)
		return
	}
	u.log.LogPrintf(DEBUG, "stored submission %d %q with %d parts", id, key, len(parts))
	return
}

type partRow struct {
	ID int64 `db:"s_id"`
	Part
}

func (u *UploadDB) GetSubmission(ctx context.Context, id int64) (
	s Submission, parts []Part, err error) {

	err = u.db.DB.GetContext(ctx, &s,
		`SELECT s_id,s_key,s_added,s_remote FROM submissions WHERE s_id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			err = ErrNotFound
			return
		}
		err = u.sqlError("submission query", err)
		return
	}
	err = u.db.DB.SelectContext(ctx, &parts,
		`SELECT p_num,p_name,p_hasfn,p_filename,p_ctype,p_size,p_hash,p_value
FROM submission_parts WHERE s_id = $1 ORDER BY p_num`, id)
	if err != nil {
		err = u.sqlError("parts query", err)
	}
	return
}

// FileRefs counts parts referring to stored file.
func (u *UploadDB) FileRefs(ctx context.Context, hash string) (n int64, err error) {
	err = u.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submission_parts WHERE p_hash = $1`, hash).Scan(&n)
	if err != nil {
		err = u.sqlError("file refs query", err)
	}
	return
}
