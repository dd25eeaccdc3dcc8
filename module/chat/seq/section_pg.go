package seq

import (
	"context"
	"errors"

	"PPSeq/module/chat/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const sectionDDL = `
CREATE TABLE IF NOT EXISTS section (
  section_key VARCHAR(64) PRIMARY KEY,
  max_seq     BIGINT  NOT NULL DEFAULT 0,
  step        INTEGER NOT NULL DEFAULT 100,
  version     INTEGER NOT NULL DEFAULT 1
)`

// 冲突时 max_seq 取 GREATEST，乱序/重试写不会把水位拉低
const sectionUpsertSQL = `
INSERT INTO section (section_key, max_seq, step, version)
VALUES ($1, $2, $3, 1)
ON CONFLICT (section_key) DO UPDATE SET
  max_seq = GREATEST(section.max_seq, EXCLUDED.max_seq),
  step    = EXCLUDED.step,
  version = section.version + 1`

// PgxIface pgxpool.Pool 的子集，测试可替换
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type PgSectionStore struct {
	db PgxIface
}

func NewPgSectionStore(db PgxIface) *PgSectionStore {
	return &PgSectionStore{db: db}
}

// EnsureSchema 启动时建表
func (p *PgSectionStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, sectionDDL)
	return err
}

func (p *PgSectionStore) Upsert(ctx context.Context, s model.Section) error {
	_, err := p.db.Exec(ctx, sectionUpsertSQL, s.SectionKey, s.MaxSeq, s.Step)
	return err
}

func (p *PgSectionStore) Load(ctx context.Context, sectionKey string) (model.Section, bool, error) {
	var s model.Section
	err := p.db.QueryRow(ctx,
		`SELECT section_key, max_seq, step, version FROM section WHERE section_key = $1`, sectionKey,
	).Scan(&s.SectionKey, &s.MaxSeq, &s.Step, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Section{}, false, nil
	}
	if err != nil {
		return model.Section{}, false, err
	}
	return s, true, nil
}

func (p *PgSectionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx, `SELECT count(*) FROM section`).Scan(&n)
	return n, err
}

func (p *PgSectionStore) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}
