// Package command transfers a job by running an external program, one process per job.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
)

// Transfer runs argv with {collection}, {subcollection}, {count} and {job_id}
// substituted in each argument. The job is also exported as MIGRATOR_JOB_*
// environment variables. Output goes to <logDir>/<collection>_<subcollection>.log.
type Transfer struct {
	argv   []string
	logDir string
}

var _ repository.Transfer = (*Transfer)(nil)

func NewTransfer(argv []string, logDir string) (*Transfer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("transfer command is empty")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	return &Transfer{argv: argv, logDir: logDir}, nil
}

// LogPath is where the output of job's transfer is written.
func (t *Transfer) LogPath(job *entity.Job) string {
	return filepath.Join(t.logDir, fmt.Sprintf("%s_%s.log", job.Collection, job.Subcollection))
}

func (t *Transfer) Transfer(ctx context.Context, job *entity.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}

	f, err := os.Create(t.LogPath(job))
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer func() {
		_ = f.Sync()
		_ = f.Close()
	}()

	args := expand(t.argv, job)
	header := fmt.Sprintf("job_id: %s\ncount: %d\nstarted_at: %s\ncommand: %s\n\n--- COMMAND OUTPUT ---\n\n",
		job.ID(), job.Count, time.Now().Format(time.RFC3339), strings.Join(args, " "))
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("write header to log: %w", err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Env = append(os.Environ(),
		"MIGRATOR_JOB_ID="+job.ID(),
		"MIGRATOR_JOB_COLLECTION="+job.Collection,
		"MIGRATOR_JOB_SUBCOLLECTION="+job.Subcollection,
		"MIGRATOR_JOB_COUNT="+strconv.FormatInt(job.Count, 10),
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transfer %s canceled or timed out: %w", job.ID(), ctx.Err())
		}
		return fmt.Errorf("transfer %s failed: %w", job.ID(), err)
	}

	if _, err := f.WriteString("\n--- SUCCESS ---\nended_at: " + time.Now().Format(time.RFC3339) + "\n"); err != nil {
		return fmt.Errorf("write footer to log: %w", err)
	}
	return nil
}

func expand(argv []string, job *entity.Job) []string {
	r := strings.NewReplacer(
		"{collection}", job.Collection,
		"{subcollection}", job.Subcollection,
		"{count}", strconv.FormatInt(job.Count, 10),
		"{job_id}", job.ID(),
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
