package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS diseases (
	disease_id       TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	related_symptoms TEXT[] NOT NULL DEFAULT '{}',
	description      TEXT NOT NULL DEFAULT '',
	position         SERIAL
);
CREATE TABLE IF NOT EXISTS guidelines (
	disease_id         TEXT PRIMARY KEY REFERENCES diseases (disease_id),
	urgency            TEXT NOT NULL,
	recommended_action TEXT NOT NULL,
	timeframe          TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS disease_risks (
	disease_id        TEXT PRIMARY KEY REFERENCES diseases (disease_id),
	special_notes     TEXT NOT NULL,
	risk_groups       TEXT[] NOT NULL DEFAULT '{}',
	contraindications TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_guidelines_urgency ON guidelines (urgency);
`

// PGRepository reads the knowledge tables from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate knowledge schema: %w", err)
	}
	return nil
}

// Seed upserts the given tables. Existing rows are overwritten.
func (r *PGRepository) Seed(ctx context.Context, diseases []Disease, guidelines []Guideline, risks []Risk) error {
	batch := &pgx.Batch{}
	for _, d := range diseases {
		batch.Queue(`INSERT INTO diseases (disease_id, name, related_symptoms, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (disease_id) DO UPDATE SET name = EXCLUDED.name,
				related_symptoms = EXCLUDED.related_symptoms, description = EXCLUDED.description`,
			d.DiseaseID, d.Name, d.RelatedSymptoms, d.Description)
	}
	for _, g := range guidelines {
		batch.Queue(`INSERT INTO guidelines (disease_id, urgency, recommended_action, timeframe)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (disease_id) DO UPDATE SET urgency = EXCLUDED.urgency,
				recommended_action = EXCLUDED.recommended_action, timeframe = EXCLUDED.timeframe`,
			g.DiseaseID, string(g.Urgency), g.RecommendedAction, g.Timeframe)
	}
	for _, rk := range risks {
		batch.Queue(`INSERT INTO disease_risks (disease_id, special_notes, risk_groups, contraindications)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (disease_id) DO UPDATE SET special_notes = EXCLUDED.special_notes,
				risk_groups = EXCLUDED.risk_groups, contraindications = EXCLUDED.contraindications`,
			rk.DiseaseID, rk.SpecialNotes, nonNil(rk.RiskGroups), nonNil(rk.Contraindications))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed knowledge: %w", err)
	}
	return nil
}

// Empty reports whether the disease table has no rows.
func (r *PGRepository) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM diseases`).Scan(&n); err != nil {
		return false, fmt.Errorf("count diseases: %w", err)
	}
	return n == 0, nil
}

func (r *PGRepository) Diseases(ctx context.Context) ([]Disease, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT disease_id, name, related_symptoms, description FROM diseases ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query diseases: %w", err)
	}
	defer rows.Close()

	out := []Disease{}
	for rows.Next() {
		var d Disease
		if err := rows.Scan(&d.DiseaseID, &d.Name, &d.RelatedSymptoms, &d.Description); err != nil {
			return nil, fmt.Errorf("scan disease: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PGRepository) Disease(ctx context.Context, id string) (Disease, error) {
	var d Disease
	err := r.pool.QueryRow(ctx,
		`SELECT disease_id, name, related_symptoms, description FROM diseases WHERE disease_id = $1`, id,
	).Scan(&d.DiseaseID, &d.Name, &d.RelatedSymptoms, &d.Description)
	if err != nil {
		return Disease{}, notFound(err, "disease", id)
	}
	return d, nil
}

func (r *PGRepository) Guideline(ctx context.Context, id string) (Guideline, error) {
	var g Guideline
	var urgency string
	err := r.pool.QueryRow(ctx,
		`SELECT disease_id, urgency, recommended_action, timeframe FROM guidelines WHERE disease_id = $1`, id,
	).Scan(&g.DiseaseID, &urgency, &g.RecommendedAction, &g.Timeframe)
	if err != nil {
		return Guideline{}, notFound(err, "guideline", id)
	}
	g.Urgency = Urgency(urgency)
	return g, nil
}

func (r *PGRepository) Guidelines(ctx context.Context, urgency Urgency) ([]Guideline, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT disease_id, urgency, recommended_action, timeframe FROM guidelines
		 WHERE $1 = '' OR urgency = $1 ORDER BY disease_id`, string(urgency))
	if err != nil {
		return nil, fmt.Errorf("query guidelines: %w", err)
	}
	defer rows.Close()

	out := []Guideline{}
	for rows.Next() {
		var g Guideline
		var u string
		if err := rows.Scan(&g.DiseaseID, &u, &g.RecommendedAction, &g.Timeframe); err != nil {
			return nil, fmt.Errorf("scan guideline: %w", err)
		}
		g.Urgency = Urgency(u)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PGRepository) Risk(ctx context.Context, id string) (Risk, error) {
	var rk Risk
	err := r.pool.QueryRow(ctx,
		`SELECT disease_id, special_notes, risk_groups, contraindications FROM disease_risks WHERE disease_id = $1`, id,
	).Scan(&rk.DiseaseID, &rk.SpecialNotes, &rk.RiskGroups, &rk.Contraindications)
	if err != nil {
		return Risk{}, notFound(err, "risk", id)
	}
	return rk, nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("query %s %s: %w", kind, id, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
