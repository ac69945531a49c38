package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fiscaldoc/internal/document/models"
	"fiscaldoc/internal/platform/postgres"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/platform/tx"
)

// PostgresStore persists documents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed document store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var documentColumns = []string{
	"id", "organization_id",
	"issuer_id", "issuer_name", "type_code", "series_number", "series_key",
	"currency", "subtotal", "tax", "total", "issue_date",
	"counterparty_id", "counterparty_name",
	"embedded_code", "code_hash",
	"correlative_scope", "correlative_number",
	"status",
	"is_duplicate", "duplicate_of", "duplicate_method", "duplicate_confidence",
	"verified", "verification_class", "registry_doc_status", "registry_issuer_status",
	"registry_issuer_cond", "registry_observations", "registry_attempts",
	"registry_retries", "registry_variation", "registry_checked_at",
	"failure_class", "failure_code", "failure_message", "failure_stage",
	"ingested_at", "updated_at",
}

var selectColumns = strings.Join(documentColumns, ", ")

func (s *PostgresStore) Create(ctx context.Context, doc *models.Document) error {
	placeholders := make([]string, len(documentColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO documents (%s) VALUES (%s)`,
		selectColumns, strings.Join(placeholders, ", "))
	if _, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, documentArgs(doc)...); err != nil {
		return fmt.Errorf("insert document: %w", postgres.Classify(err))
	}
	return nil
}

// Update rewrites every mutable column. A uniqueness violation on the
// original-document indexes surfaces as sentinel.ErrConflict.
func (s *PostgresStore) Update(ctx context.Context, doc *models.Document) error {
	sets := make([]string, 0, len(documentColumns)-1)
	for i, col := range documentColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
	}
	query := fmt.Sprintf(`UPDATE documents SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, documentArgs(doc)...)
	if err != nil {
		return fmt.Errorf("update document: %w", postgres.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, organizationID string, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + selectColumns + ` FROM documents WHERE id = $1 AND organization_id = $2`
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id, organizationID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) FindByCodeHash(ctx context.Context, lookup models.Lookup, codeHash string) (*models.Document, error) {
	if codeHash == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findPrior(ctx, lookup, `code_hash = $4`, codeHash)
}

func (s *PostgresStore) FindByIssuerSeries(ctx context.Context, lookup models.Lookup, issuerID, seriesKey string) (*models.Document, error) {
	if issuerID == "" || seriesKey == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findPrior(ctx, lookup, `issuer_id = $4 AND series_key = $5`, issuerID, seriesKey)
}

// findPrior runs the shared prior-original query. $1..$3 are the lookup
// bounds; match starts at $4.
func (s *PostgresStore) findPrior(ctx context.Context, lookup models.Lookup, match string, args ...any) (*models.Document, error) {
	query := `SELECT ` + selectColumns + ` FROM documents
		WHERE organization_id = $1
		  AND id <> $2
		  AND NOT is_duplicate
		  AND status = 'COMPLETED'
		  AND ($3::timestamptz IS NULL OR (ingested_at, id) < ($3::timestamptz, $2::uuid))
		  AND ` + match + `
		ORDER BY ingested_at, id
		LIMIT 1`
	var before sql.NullTime
	if !lookup.IngestedAt.IsZero() {
		before = sql.NullTime{Time: lookup.IngestedAt, Valid: true}
	}
	params := append([]any{lookup.OrganizationID, lookup.ExcludeID, before}, args...)
	doc, err := scanDocument(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, params...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find prior document: %w", err)
	}
	return doc, nil
}

func documentArgs(d *models.Document) []any {
	var (
		codeHash    sql.NullString
		correlative sql.NullInt64
		dupOf       uuid.NullUUID
		verified    sql.NullBool
		checkedAt   sql.NullTime
		v           models.RegistryOutcome
		f           models.Failure
	)
	if d.CodeHash != "" {
		codeHash = sql.NullString{String: d.CodeHash, Valid: true}
	}
	if d.CorrelativeNumber != nil {
		correlative = sql.NullInt64{Int64: *d.CorrelativeNumber, Valid: true}
	}
	if d.Duplicate.DuplicateOf != nil {
		dupOf = uuid.NullUUID{UUID: *d.Duplicate.DuplicateOf, Valid: true}
	}
	if d.Verification != nil {
		v = *d.Verification
		verified = sql.NullBool{Bool: v.Verified, Valid: true}
		checkedAt = sql.NullTime{Time: v.CheckedAt, Valid: !v.CheckedAt.IsZero()}
	}
	if d.Failure != nil {
		f = *d.Failure
	}
	observations := v.Observations
	if observations == nil {
		observations = []string{}
	}
	return []any{
		d.ID, d.OrganizationID,
		d.Fiscal.IssuerID, d.Fiscal.IssuerName, d.Fiscal.TypeCode, d.Fiscal.SeriesNumber, d.SeriesKey(),
		d.Fiscal.Currency, d.Fiscal.Subtotal, d.Fiscal.Tax, d.Fiscal.Total, d.Fiscal.IssueDate,
		d.Fiscal.CounterpartyID, d.Fiscal.CounterpartyName,
		d.EmbeddedCode, codeHash,
		d.CorrelativeScope, correlative,
		string(d.Status),
		d.Duplicate.Duplicate, dupOf, d.Duplicate.Method, d.Duplicate.Confidence,
		verified, v.Classification, v.DocumentStatus, v.IssuerStatus,
		v.IssuerCondition, pq.Array(observations), v.Attempts,
		v.TransportRetries, v.Variation, checkedAt,
		string(f.Class), f.Code, f.Message, string(f.Stage),
		d.IngestedAt, d.UpdatedAt,
	}
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var (
		d            models.Document
		seriesKey    string
		codeHash     sql.NullString
		correlative  sql.NullInt64
		status       string
		dupOf        uuid.NullUUID
		verified     sql.NullBool
		v            models.RegistryOutcome
		observations []string
		checkedAt    sql.NullTime
		f            models.Failure
		failClass    string
		failStage    string
	)
	err := row.Scan(
		&d.ID, &d.OrganizationID,
		&d.Fiscal.IssuerID, &d.Fiscal.IssuerName, &d.Fiscal.TypeCode, &d.Fiscal.SeriesNumber, &seriesKey,
		&d.Fiscal.Currency, &d.Fiscal.Subtotal, &d.Fiscal.Tax, &d.Fiscal.Total, &d.Fiscal.IssueDate,
		&d.Fiscal.CounterpartyID, &d.Fiscal.CounterpartyName,
		&d.EmbeddedCode, &codeHash,
		&d.CorrelativeScope, &correlative,
		&status,
		&d.Duplicate.Duplicate, &dupOf, &d.Duplicate.Method, &d.Duplicate.Confidence,
		&verified, &v.Classification, &v.DocumentStatus, &v.IssuerStatus,
		&v.IssuerCondition, pq.Array(&observations), &v.Attempts,
		&v.TransportRetries, &v.Variation, &checkedAt,
		&failClass, &f.Code, &f.Message, &failStage,
		&d.IngestedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = models.Status(status)
	d.CodeHash = codeHash.String
	if correlative.Valid {
		n := correlative.Int64
		d.CorrelativeNumber = &n
	}
	if dupOf.Valid {
		id := dupOf.UUID
		d.Duplicate.DuplicateOf = &id
	}
	if verified.Valid {
		v.Verified = verified.Bool
		v.Observations = observations
		if checkedAt.Valid {
			v.CheckedAt = checkedAt.Time.UTC()
		}
		d.Verification = &v
	}
	if failClass != "" {
		f.Class = models.FailureClass(failClass)
		f.Stage = models.Status(failStage)
		d.Failure = &f
	}
	d.IngestedAt = d.IngestedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
