package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/tollgate/internal/archive"
	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/metrics"
	"github.com/DukeRupert/tollgate/internal/store"
)

// TaskPruneUsage is the name of the usage retention task.
const TaskPruneUsage = "prune_usage"

// PruneUsageTask moves usage events older than the retention window into
// the archive. The daily counters are never touched.
type PruneUsageTask struct {
	usage         store.UsageLog
	archive       archive.Storage
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewPruneUsageTask creates a new PruneUsageTask. retentionDays counts
// today, so 1 keeps only today's events.
func NewPruneUsageTask(
	usage store.UsageLog,
	storage archive.Storage,
	retentionDays int,
	interval time.Duration,
	logger *slog.Logger,
) *PruneUsageTask {
	return &PruneUsageTask{
		usage:         usage,
		archive:       storage,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		now:           time.Now,
	}
}

func (t *PruneUsageTask) Name() string { return TaskPruneUsage }

func (t *PruneUsageTask) Interval() time.Duration { return t.interval }

// Run archives every event dated before the cutoff and then prunes them.
// The archive is read back and compared with what was written; if the
// write or the read-back fails nothing is pruned.
func (t *PruneUsageTask) Run(ctx context.Context) error {
	if t.retentionDays < 1 {
		return NewPermanentError(fmt.Errorf("retention must keep at least 1 day, got %d", t.retentionDays))
	}

	cutoff := CutoffDate(t.now(), t.retentionDays)

	events, err := t.usage.UsageEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("read usage events: %w", err)
	}
	if len(events) == 0 {
		t.logger.Debug("no usage events to archive", "cutoff", cutoff)
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode usage event: %w", err)
		}
	}

	key := archive.UsageArchiveKey(cutoff)
	data := buf.Bytes()
	// A rerun after a failed prune rewrites the same archive with a superset
	// of its events.
	if err := t.archive.Put(ctx, key, bytes.NewReader(data), archive.PutOptions{
		ContentType: archive.ContentTypeJSONLines,
		Overwrite:   true,
	}); err != nil {
		return fmt.Errorf("archive usage events: %w", err)
	}
	if err := t.verifyArchive(ctx, key, data); err != nil {
		t.logger.Error("usage archive failed verification, skipping prune", "key", key, "error", err)
		return err
	}

	pruned, err := t.usage.PruneUsageBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune usage events: %w", err)
	}
	metrics.UsageEventsArchived.Add(float64(pruned))

	t.logger.Info("archived usage history",
		"cutoff", cutoff,
		"key", key,
		"archived", len(events),
		"pruned", pruned,
	)
	return nil
}

// verifyArchive reads key back and checks it holds exactly want.
func (t *PruneUsageTask) verifyArchive(ctx context.Context, key string, want []byte) error {
	rc, info, err := t.archive.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read back usage archive: %w", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read back usage archive: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("usage archive %s: read back %d bytes (reported size %d), wrote %d", key, len(got), info.Size, len(want))
	}
	return nil
}

// CutoffDate returns the oldest date kept when retaining retentionDays days
// of history, counting the day of now.
func CutoffDate(now time.Time, retentionDays int) string {
	return domain.UsageDate(domain.StartOfDay(now).AddDate(0, 0, 1-retentionDays))
}

var _ Task = (*PruneUsageTask)(nil)
