package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/services"
)

const moderationColumns = `id, entity_kind, entity_id, priority, status, assignee, outcome, resolution_note,
    source, metadata_json, version, enroll_count, enrolled_at, assigned_at, resolved_at, updated_at`

// enrollAttempts bounds the optimistic enroll loop; each iteration only repeats
// after another writer changed the open item underneath us.
const enrollAttempts = 16

type moderationRow struct {
	ID             string         `db:"id"`
	EntityKind     string         `db:"entity_kind"`
	EntityID       string         `db:"entity_id"`
	Priority       int            `db:"priority"`
	Status         string         `db:"status"`
	Assignee       sql.NullString `db:"assignee"`
	Outcome        sql.NullString `db:"outcome"`
	ResolutionNote sql.NullString `db:"resolution_note"`
	Source         string         `db:"source"`
	MetadataJSON   string         `db:"metadata_json"`
	Version        int64          `db:"version"`
	EnrollCount    int64          `db:"enroll_count"`
	EnrolledAt     string         `db:"enrolled_at"`
	AssignedAt     sql.NullString `db:"assigned_at"`
	ResolvedAt     sql.NullString `db:"resolved_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r moderationRow) toItem() *ModerationItem {
	return &ModerationItem{
		ID:             r.ID,
		EntityKind:     EntityKind(r.EntityKind),
		EntityID:       r.EntityID,
		Priority:       Priority(r.Priority),
		Status:         ModerationStatus(r.Status),
		Assignee:       r.Assignee.String,
		Outcome:        Outcome(r.Outcome.String),
		ResolutionNote: r.ResolutionNote.String,
		Source:         ModerationSource(r.Source),
		Metadata:       unmarshalObject(r.MetadataJSON),
		Version:        r.Version,
		EnrollCount:    r.EnrollCount,
		EnrolledAt:     parseTime(r.EnrolledAt),
		AssignedAt:     parseNullTime(r.AssignedAt),
		ResolvedAt:     parseNullTime(r.ResolvedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
}

// MergeMetadata returns a shallow merge of base and update; keys in update win.
func MergeMetadata(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// EnrollModeration places an entity under review. When an open item already
// exists for the entity, its priority is raised to the max of old and new, the
// metadata is merged, and created is false. At most one open item per entity
// exists at any time, enforced by a partial unique index.
func (s *Store) EnrollModeration(ctx context.Context, params EnrollParams, now time.Time) (*ModerationItem, bool, error) {
	if params.EntityID == "" {
		return nil, false, services.Invalid("entity_id", "required")
	}
	if params.Priority < PriorityLow || params.Priority > PriorityHigh {
		return nil, false, services.Invalid("priority", fmt.Sprintf("out of range: %d", int(params.Priority)))
	}
	if params.Source == "" {
		params.Source = SourceAutomatic
	}
	now = normalizeNow(now)
	timestamp := formatTime(now)

	for attempt := 0; attempt < enrollAttempts; attempt++ {
		existing, err := s.openModeration(ctx, params.EntityKind, params.EntityID)
		if err != nil {
			return nil, false, err
		}

		if existing == nil {
			id := newID()
			_, err := s.exec(ctx,
				`INSERT INTO moderation_items (
                    id, entity_kind, entity_id, priority, status, source, metadata_json,
                    version, enroll_count, enrolled_at, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?)`,
				id,
				string(params.EntityKind),
				params.EntityID,
				int(params.Priority),
				string(ModerationPending),
				string(params.Source),
				marshalJSON(MergeMetadata(nil, params.Metadata), "{}"),
				timestamp,
				timestamp,
			)
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return nil, false, infraError("enroll moderation", err)
			}
			item, err := s.GetModeration(ctx, id)
			return item, err == nil, err
		}

		priority := existing.Priority
		if params.Priority > priority {
			priority = params.Priority
		}
		res, err := s.exec(ctx,
			`UPDATE moderation_items
             SET priority = ?, metadata_json = ?, enroll_count = enroll_count + 1,
                 version = version + 1, updated_at = ?
             WHERE id = ? AND version = ? AND status IN (?, ?)`,
			int(priority),
			marshalJSON(MergeMetadata(existing.Metadata, params.Metadata), "{}"),
			timestamp,
			existing.ID,
			existing.Version,
			string(ModerationPending),
			string(ModerationAssigned),
		)
		if err != nil {
			return nil, false, infraError("re-enroll moderation", err)
		}
		if n, err := rowsAffected(res); err != nil {
			return nil, false, infraError("re-enroll moderation", err)
		} else if n == 1 {
			item, err := s.GetModeration(ctx, existing.ID)
			return item, false, err
		}
	}
	return nil, false, services.Wrap(services.ErrConflict, "store", "enroll moderation",
		fmt.Sprintf("gave up after %d contended attempts for %s/%s", enrollAttempts, params.EntityKind, params.EntityID), nil)
}

func (s *Store) openModeration(ctx context.Context, kind EntityKind, entityID string) (*ModerationItem, error) {
	var row moderationRow
	err := s.get(ctx, &row,
		`SELECT `+moderationColumns+` FROM moderation_items
         WHERE entity_kind = ? AND entity_id = ? AND status IN (?, ?)`,
		string(kind), entityID, string(ModerationPending), string(ModerationAssigned),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, infraError("find open moderation", err)
	}
	return row.toItem(), nil
}

// GetModeration fetches a moderation item by id.
func (s *Store) GetModeration(ctx context.Context, id string) (*ModerationItem, error) {
	var row moderationRow
	err := s.get(ctx, &row, `SELECT `+moderationColumns+` FROM moderation_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get moderation", fmt.Sprintf("moderation item %s not found", id), nil)
	}
	if err != nil {
		return nil, infraError("get moderation", err)
	}
	return row.toItem(), nil
}

// AssignModeration moves a pending item to assigned. Exactly one concurrent
// caller wins; the others receive services.ErrAlreadyAssigned.
func (s *Store) AssignModeration(ctx context.Context, id, reviewer string, now time.Time) (*ModerationItem, error) {
	if reviewer == "" {
		return nil, services.Invalid("reviewer", "required")
	}
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE moderation_items
         SET status = ?, assignee = ?, assigned_at = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(ModerationAssigned), reviewer, timestamp, timestamp, id, string(ModerationPending),
	)
	if err != nil {
		return nil, infraError("assign moderation", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, infraError("assign moderation", err)
	}
	item, err := s.GetModeration(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if item.Status == ModerationResolved {
			return nil, services.Wrap(services.ErrConflict, "store", "assign moderation",
				fmt.Sprintf("moderation item %s is already resolved", id), nil)
		}
		return nil, fmt.Errorf("moderation item %s held by %s: %w", id, item.Assignee, services.ErrAlreadyAssigned)
	}
	return item, nil
}

// ResolveModeration records the assignee's decision. Only the current assignee
// may resolve, and only once.
func (s *Store) ResolveModeration(ctx context.Context, id, reviewer string, outcome Outcome, note string, now time.Time) (*ModerationItem, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, services.Invalid("outcome", err.Error())
	}
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE moderation_items
         SET status = ?, outcome = ?, resolution_note = ?, resolved_at = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND assignee = ?`,
		string(ModerationResolved), string(outcome), nullableString(note), timestamp, timestamp,
		id, string(ModerationAssigned), reviewer,
	)
	if err != nil {
		return nil, infraError("resolve moderation", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, infraError("resolve moderation", err)
	}
	item, err := s.GetModeration(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return item, nil
	}
	var reason string
	switch item.Status {
	case ModerationPending:
		reason = fmt.Sprintf("moderation item %s is not assigned", id)
	case ModerationResolved:
		reason = fmt.Sprintf("moderation item %s is already resolved", id)
	default:
		reason = fmt.Sprintf("moderation item %s is assigned to %s", id, item.Assignee)
	}
	return nil, services.Wrap(services.ErrConflict, "store", "resolve moderation", reason, nil)
}

// ListPendingModeration returns pending items in review order: priority
// descending, then oldest enrollment, then id. A zero priority lists every level.
func (s *Store) ListPendingModeration(ctx context.Context, priority Priority, limit int) ([]*ModerationItem, error) {
	query := `SELECT ` + moderationColumns + ` FROM moderation_items WHERE status = ?`
	args := []any{string(ModerationPending)}
	if priority != 0 {
		query += ` AND priority = ?`
		args = append(args, int(priority))
	}
	query += ` ORDER BY priority DESC, enrolled_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []moderationRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, infraError("list moderation", err)
	}
	out := make([]*ModerationItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toItem())
	}
	return out, nil
}

// ListModerationForEntity returns every item, open or resolved, for an entity.
func (s *Store) ListModerationForEntity(ctx context.Context, kind EntityKind, entityID string) ([]*ModerationItem, error) {
	var rows []moderationRow
	if err := s.selectRows(ctx, &rows,
		`SELECT `+moderationColumns+` FROM moderation_items
         WHERE entity_kind = ? AND entity_id = ? ORDER BY enrolled_at, id`,
		string(kind), entityID,
	); err != nil {
		return nil, infraError("list moderation for entity", err)
	}
	out := make([]*ModerationItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toItem())
	}
	return out, nil
}

// ClaimNextModeration assigns the head of the pending queue to reviewer. It
// returns nil when the queue is empty.
func (s *Store) ClaimNextModeration(ctx context.Context, reviewer string, now time.Time) (*ModerationItem, error) {
	if reviewer == "" {
		return nil, services.Invalid("reviewer", "required")
	}
	for attempt := 0; attempt < claimAttempts; attempt++ {
		head, err := s.ListPendingModeration(ctx, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(head) == 0 {
			return nil, nil
		}
		item, err := s.AssignModeration(ctx, head[0].ID, reviewer, now)
		if errors.Is(err, services.ErrConflict) {
			continue
		}
		return item, err
	}
	return nil, nil
}

// CountPendingModeration returns the number of items awaiting a reviewer.
func (s *Store) CountPendingModeration(ctx context.Context) (int, error) {
	var count int
	if err := s.get(ctx, &count, `SELECT COUNT(1) FROM moderation_items WHERE status = ?`, string(ModerationPending)); err != nil {
		return 0, infraError("count moderation", err)
	}
	return count, nil
}
