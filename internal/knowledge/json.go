package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	DiseaseFile   = "symptom.json"
	GuidelineFile = "guideline.json"
	RiskFile      = "disease_info.json"
)

// JSONRepository serves the knowledge tables from JSON files loaded once.
type JSONRepository struct {
	diseases   []Disease
	guidelines []Guideline
	risks      []Risk
}

// LoadJSON reads the three knowledge files from dir. A missing file yields an
// empty table; a malformed one is an error.
func LoadJSON(dir string, log *zap.Logger) (*JSONRepository, error) {
	repo := &JSONRepository{}
	if err := loadTable(dir, DiseaseFile, &repo.diseases, log); err != nil {
		return nil, err
	}
	if err := loadTable(dir, GuidelineFile, &repo.guidelines, log); err != nil {
		return nil, err
	}
	if err := loadTable(dir, RiskFile, &repo.risks, log); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewJSONRepository builds a repository from in-memory tables.
func NewJSONRepository(diseases []Disease, guidelines []Guideline, risks []Risk) *JSONRepository {
	return &JSONRepository{diseases: diseases, guidelines: guidelines, risks: risks}
}

func loadTable[T any](dir, name string, dst *[]T, log *zap.Logger) error {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("knowledge file missing", zap.String("path", path))
		*dst = []T{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	log.Info("knowledge file loaded", zap.String("file", name), zap.Int("records", len(*dst)))
	return nil
}

func (r *JSONRepository) Diseases(_ context.Context) ([]Disease, error) {
	out := make([]Disease, len(r.diseases))
	copy(out, r.diseases)
	return out, nil
}

func (r *JSONRepository) Disease(_ context.Context, id string) (Disease, error) {
	for _, d := range r.diseases {
		if d.DiseaseID == id {
			return d, nil
		}
	}
	return Disease{}, ErrNotFound
}

func (r *JSONRepository) Guideline(_ context.Context, id string) (Guideline, error) {
	for _, g := range r.guidelines {
		if g.DiseaseID == id {
			return g, nil
		}
	}
	return Guideline{}, ErrNotFound
}

func (r *JSONRepository) Guidelines(_ context.Context, urgency Urgency) ([]Guideline, error) {
	out := []Guideline{}
	for _, g := range r.guidelines {
		if urgency == "" || g.Urgency == urgency {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *JSONRepository) Risk(_ context.Context, id string) (Risk, error) {
	for _, rk := range r.risks {
		if rk.DiseaseID == id {
			return rk, nil
		}
	}
	return Risk{}, ErrNotFound
}

// Tables exposes the loaded records, used to seed other backends.
func (r *JSONRepository) Tables() ([]Disease, []Guideline, []Risk) {
	return r.diseases, r.guidelines, r.risks
}
