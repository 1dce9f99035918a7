package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
)

const planFile = "plan.json"

// ErrPlanNotFound is returned by GetPlan for an unknown run id.
var ErrPlanNotFound = errors.New("plan not found")

// PlanRepository keeps one directory per run under basePath, each holding plan.json.
type PlanRepository struct {
	basePath string
}

var _ repository.PlanRepository = (*PlanRepository)(nil)

func NewPlanRepository(basePath string) (*PlanRepository, error) {
	info, err := os.Stat(basePath)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(basePath, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", basePath, mkErr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check directory %s: %w", basePath, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("path %s exists but is not a directory", basePath)
	}

	return &PlanRepository{basePath: basePath}, nil
}

func (r *PlanRepository) BasePath() string {
	return r.basePath
}

// SavePlan writes the plan atomically: a temp file in the run directory is
// renamed over plan.json.
func (r *PlanRepository) SavePlan(_ context.Context, plan *entity.Plan) error {
	if plan == nil || plan.RunID == "" {
		return errors.New("plan run id is required")
	}
	if err := validRunID(plan.RunID); err != nil {
		return err
	}

	runDir := filepath.Join(r.basePath, plan.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	tmp, err := os.CreateTemp(runDir, planFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(runDir, planFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) GetPlan(_ context.Context, runID string) (*entity.Plan, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.basePath, runID, planFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan entity.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &plan, nil
}

// ListPlans returns the run ids that have a plan, sorted.
func (r *PlanRepository) ListPlans(_ context.Context) ([]string, error) {
	var runs []string

	err := filepath.WalkDir(r.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == r.basePath {
			return nil
		}
		if _, err := os.Stat(filepath.Join(path, planFile)); err == nil {
			runs = append(runs, filepath.Base(path))
		}
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(runs)
	return runs, nil
}

func (r *PlanRepository) DeletePlan(_ context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(r.basePath, runID)); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

func validRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || filepath.Base(runID) != runID {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
