package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

// MemoryRepository is both the authoritative record store and the lexical
// index. In lexical search the owner predicate is joined by AND with the
// whole group of content predicates; OR is only ever used among term
// alternatives inside that group. Joining owner and terms with OR leaks
// every owner's memories that satisfy any term; that bug class is covered
// by tests and must stay that way.
type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *MemoryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	raw_text TEXT,
	processed_text TEXT,
	caption TEXT,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	image_path TEXT,
	audio_path TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id);
CREATE INDEX IF NOT EXISTS idx_memories_owner_created_at ON memories(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, mem *domain.Memory) error {
	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO memories (
	id, owner_id, kind, raw_text, processed_text, caption, tags, image_path, audio_path, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		mem.ID, mem.OwnerID, string(mem.Kind), mem.RawText, mem.ProcessedText, mem.Caption, tagsJSON,
		mem.ImagePath, mem.AudioPath, string(mem.Status), mem.Error, mem.CreatedAt, mem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Memory, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, kind, raw_text, processed_text, caption, tags, image_path, audio_path, status, error_message, created_at, updated_at, deleted_at
FROM memories
WHERE id = $1
`, id)

	mem, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrMemoryNotFound, "get memory", errors.New(id))
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	return mem, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status domain.MemoryStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE memories
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update memory status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrMemoryNotFound, "update memory status", errors.New(id))
	}
	return nil
}

func (r *MemoryRepository) SaveEnrichment(ctx context.Context, id string, processedText, caption string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE memories
SET processed_text = $2, caption = $3, tags = $4, updated_at = $5
WHERE id = $1
`, id, processedText, caption, tagsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrMemoryNotFound, "save enrichment", errors.New(id))
	}
	return nil
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE memories
SET deleted_at = $3, updated_at = $3
WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
`, id, ownerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrMemoryNotFound, "soft delete memory", errors.New(id))
	}
	return nil
}

// SearchLexical implements the lexical signal: up to limit candidates whose
// text or tags match any query term, always restricted to one owner.
func (r *MemoryRepository) SearchLexical(ctx context.Context, query, ownerID string, limit int) ([]domain.Candidate, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// owner_id AND deleted_at AND (term OR term ...): the owner predicate
	// must never join the term group with OR.
	args := []any{ownerID}
	termConds := make([]string, 0, len(terms))
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		p := fmt.Sprintf("$%d", len(args))
		termConds = append(termConds,
			fmt.Sprintf("(processed_text ILIKE %s OR raw_text ILIKE %s OR caption ILIKE %s OR tags::text ILIKE %s)", p, p, p, p))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT id, owner_id, kind, processed_text, raw_text, caption, created_at
FROM memories
WHERE owner_id = $1 AND deleted_at IS NULL AND (%s)
ORDER BY created_at DESC
LIMIT $%d
`, strings.Join(termConds, " OR "), len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			id, owner, kind         string
			processed, raw, caption sql.NullString
			createdAt               time.Time
		)
		if err := rows.Scan(&id, &owner, &kind, &processed, &raw, &caption, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lexical candidate: %w", err)
		}
		text := processed.String
		if text == "" {
			text = raw.String
		}
		if text == "" {
			text = caption.String
		}
		out = append(out, domain.Candidate{
			MemoryID:  id,
			Signal:    domain.SignalLexical,
			Score:     lexicalScore(text, terms),
			OwnerHint: owner,
			Kind:      domain.MemoryKind(kind),
			Text:      text,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical candidates: %w", err)
	}
	return out, nil
}

// lexicalScore grades a matched row into [0,1] by term coverage: the share
// of query terms present in the text, with a small bonus for early mentions.
func lexicalScore(text string, terms []string) float64 {
	if text == "" || len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)

	matched := 0
	positionBonus := 0.0
	for _, term := range terms {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}
		matched++
		positionBonus += (1.0 - float64(idx)/float64(len(lower))) / float64(len(terms))
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(terms))
	score := 0.8*coverage + 0.2*positionBonus
	if score > 1 {
		score = 1
	}
	return score
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,!?"'`)
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*domain.Memory, error) {
	var (
		mem                     domain.Memory
		kind, status            string
		raw, processed, caption sql.NullString
		imagePath, audioPath    sql.NullString
		errMessage              sql.NullString
		tagsRaw                 []byte
		deletedAt               sql.NullTime
	)
	err := row.Scan(
		&mem.ID, &mem.OwnerID, &kind, &raw, &processed, &caption, &tagsRaw,
		&imagePath, &audioPath, &status, &errMessage, &mem.CreatedAt, &mem.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &mem.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	mem.Kind = domain.MemoryKind(kind)
	mem.Status = domain.MemoryStatus(status)
	mem.RawText = raw.String
	mem.ProcessedText = processed.String
	mem.Caption = caption.String
	mem.ImagePath = imagePath.String
	mem.AudioPath = audioPath.String
	mem.Error = errMessage.String
	if deletedAt.Valid {
		t := deletedAt.Time
		mem.DeletedAt = &t
	}
	return &mem, nil
}
