package history

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skufu/GoTriage/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

const queryColumns = `id, timestamp, symptom, patient_info, status, disease_name, advice,
	error_message, urgency, supplementary_info, server_duration_ms, total_duration_ms,
	model, source_channel`

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate applies the embedded migrations in file-name order. Every
// statement is idempotent so reapplying is safe.
func (s *PGStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *PGStore) InsertQuery(ctx context.Context, rec Record) error {
	rec.prepare()

	patient, err := json.Marshal(rec.PatientInfo)
	if err != nil {
		return fmt.Errorf("encode patient_info: %w", err)
	}
	var adv []byte
	if rec.Advice != nil {
		if adv, err = json.Marshal(rec.Advice); err != nil {
			return fmt.Errorf("encode advice: %w", err)
		}
	}
	supp, err := json.Marshal(nonNilMap(rec.SupplementaryInfo))
	if err != nil {
		return fmt.Errorf("encode supplementary_info: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO queries (`+queryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Timestamp, rec.Symptom, patient, string(rec.Status), rec.DiseaseName, adv,
		rec.ErrorMessage, rec.Urgency, supp, rec.ServerDurationMS, rec.TotalDurationMS,
		rec.Model, rec.SourceChannel,
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

func (s *PGStore) InsertSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	ev.prepare()
	_, err := s.pool.Exec(ctx, `INSERT INTO security_events
		(id, timestamp, symptom, risk_score, reasons, client_ip, source_channel)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Timestamp, ev.Symptom, ev.RiskScore, ev.Reasons, ev.ClientIP, ev.SourceChannel,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *PGStore) ListQueries(ctx context.Context, page, pageSize int) (Page, error) {
	page, pageSize = NormalizePaging(page, pageSize)
	out := Page{Items: []Record{}, Page: page, PageSize: pageSize}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM queries`).Scan(&out.Total); err != nil {
		return Page{}, fmt.Errorf("count queries: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+queryColumns+` FROM queries
		ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Page{}, err
		}
		out.Items = append(out.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list queries: %w", err)
	}
	return out, nil
}

func (s *PGStore) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, server_duration_ms, total_duration_ms
		FROM queries ORDER BY timestamp DESC LIMIT $1`, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Outcome, error) {
		var (
			o      Outcome
			status string
		)
		if err := row.Scan(&status, &o.ServerDurationMS, &o.TotalDurationMS); err != nil {
			return Outcome{}, err
		}
		o.Status = domain.Status(status)
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                 Record
		status              string
		patient, adv, suppl []byte
	)
	err := row.Scan(&rec.ID, &rec.Timestamp, &rec.Symptom, &patient, &status, &rec.DiseaseName, &adv,
		&rec.ErrorMessage, &rec.Urgency, &suppl, &rec.ServerDurationMS, &rec.TotalDurationMS,
		&rec.Model, &rec.SourceChannel)
	if err != nil {
		return Record{}, fmt.Errorf("scan query: %w", err)
	}
	rec.Status = domain.Status(status)

	if err := json.Unmarshal(patient, &rec.PatientInfo); err != nil {
		return Record{}, fmt.Errorf("decode patient_info: %w", err)
	}
	if len(adv) > 0 {
		if err := json.Unmarshal(adv, &rec.Advice); err != nil {
			return Record{}, fmt.Errorf("decode advice: %w", err)
		}
	}
	if len(suppl) > 0 {
		if err := json.Unmarshal(suppl, &rec.SupplementaryInfo); err != nil {
			return Record{}, fmt.Errorf("decode supplementary_info: %w", err)
		}
	}
	return rec, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
