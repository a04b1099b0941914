package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sentinel/internal/services"
)

const submissionColumns = `id, submitter_id, item_id, kind, status, artifact_handle, media_type, size_bytes,
    amount, payload_json, cultural_tags_json, cultural_background_json, title, description,
    disposition, summary_json, error_message, worker_id, last_heartbeat, created_at, updated_at,
    started_at, completed_at`

// claimAttempts bounds how many times a worker chases the queue head after losing a claim race.
const claimAttempts = 8

type submissionRow struct {
	ID                     string          `db:"id"`
	SubmitterID            string          `db:"submitter_id"`
	ItemID                 sql.NullString  `db:"item_id"`
	Kind                   string          `db:"kind"`
	Status                 string          `db:"status"`
	ArtifactHandle         sql.NullString  `db:"artifact_handle"`
	MediaType              sql.NullString  `db:"media_type"`
	SizeBytes              int64           `db:"size_bytes"`
	Amount                 sql.NullFloat64 `db:"amount"`
	PayloadJSON            sql.NullString  `db:"payload_json"`
	CulturalTagsJSON       string          `db:"cultural_tags_json"`
	CulturalBackgroundJSON string          `db:"cultural_background_json"`
	Title                  string          `db:"title"`
	Description            string          `db:"description"`
	Disposition            sql.NullString  `db:"disposition"`
	SummaryJSON            sql.NullString  `db:"summary_json"`
	ErrorMessage           sql.NullString  `db:"error_message"`
	WorkerID               sql.NullString  `db:"worker_id"`
	LastHeartbeat          sql.NullString  `db:"last_heartbeat"`
	CreatedAt              string          `db:"created_at"`
	UpdatedAt              string          `db:"updated_at"`
	StartedAt              sql.NullString  `db:"started_at"`
	CompletedAt            sql.NullString  `db:"completed_at"`
}

func (r submissionRow) toSubmission() *Submission {
	sub := &Submission{
		ID:                 r.ID,
		SubmitterID:        r.SubmitterID,
		ItemID:             r.ItemID.String,
		Kind:               SubmissionKind(r.Kind),
		Status:             SubmissionStatus(r.Status),
		ArtifactHandle:     r.ArtifactHandle.String,
		MediaType:          r.MediaType.String,
		SizeBytes:          r.SizeBytes,
		CulturalTags:       unmarshalStrings(r.CulturalTagsJSON),
		CulturalBackground: unmarshalStrings(r.CulturalBackgroundJSON),
		Title:              r.Title,
		Description:        r.Description,
		Disposition:        Disposition(r.Disposition.String),
		ErrorMessage:       r.ErrorMessage.String,
		WorkerID:           r.WorkerID.String,
		LastHeartbeat:      parseNullTime(r.LastHeartbeat),
		CreatedAt:          parseTime(r.CreatedAt),
		UpdatedAt:          parseTime(r.UpdatedAt),
		StartedAt:          parseNullTime(r.StartedAt),
		CompletedAt:        parseNullTime(r.CompletedAt),
	}
	if r.PayloadJSON.Valid && r.PayloadJSON.String != "" {
		var payload PaymentPayload
		if err := json.Unmarshal([]byte(r.PayloadJSON.String), &payload); err == nil {
			sub.Payment = &payload
		}
	}
	if r.SummaryJSON.Valid && r.SummaryJSON.String != "" {
		var summary AnalysisSummary
		if err := json.Unmarshal([]byte(r.SummaryJSON.String), &summary); err == nil {
			sub.Summary = &summary
		}
	}
	return sub
}

// InsertSubmission persists a new submission in the intake state. A blank ID is
// assigned a UUID; CreatedAt defaults to the current time.
func (s *Store) InsertSubmission(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return errors.New("submission is nil")
	}
	if sub.ID == "" {
		sub.ID = newID()
	}
	sub.CreatedAt = normalizeNow(sub.CreatedAt)
	sub.UpdatedAt = sub.CreatedAt
	sub.Status = StatusIntake
	if sub.CulturalTags == nil {
		sub.CulturalTags = []string{}
	}
	if sub.CulturalBackground == nil {
		sub.CulturalBackground = []string{}
	}

	var (
		amount  any
		payload any
	)
	if sub.Payment != nil {
		amount = sub.Payment.Amount
		payload = marshalJSON(sub.Payment, "")
	}

	timestamp := formatTime(sub.CreatedAt)
	_, err := s.exec(ctx,
		`INSERT INTO submissions (
            id, submitter_id, item_id, kind, status, artifact_handle, media_type, size_bytes,
            amount, payload_json, cultural_tags_json, cultural_background_json, title, description,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.SubmitterID,
		nullableString(sub.ItemID),
		string(sub.Kind),
		string(StatusIntake),
		nullableString(sub.ArtifactHandle),
		nullableString(sub.MediaType),
		sub.SizeBytes,
		amount,
		payload,
		marshalJSON(sub.CulturalTags, "[]"),
		marshalJSON(sub.CulturalBackground, "[]"),
		sub.Title,
		sub.Description,
		timestamp,
		timestamp,
	)
	if err != nil {
		return infraError("insert submission", err)
	}
	return nil
}

// GetSubmission fetches a submission by id.
func (s *Store) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var row submissionRow
	err := s.get(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get submission", fmt.Sprintf("submission %s not found", id), nil)
	}
	if err != nil {
		return nil, infraError("get submission", err)
	}
	return row.toSubmission(), nil
}

// ListSubmissions returns submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SubmitterID != "" {
		query += ` AND submitter_id = ?`
		args = append(args, filter.SubmitterID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []submissionRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, infraError("list submissions", err)
	}
	out := make([]*Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSubmission())
	}
	return out, nil
}

// BeginAnalysis moves a submission from intake to analyzing. It reports false
// when another worker already claimed it.
func (s *Store) BeginAnalysis(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE submissions
         SET status = ?, worker_id = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusAnalyzing), nullableString(workerID), timestamp, timestamp, timestamp,
		id, string(StatusIntake),
	)
	if err != nil {
		return false, infraError("begin analysis", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, infraError("begin analysis", err)
	}
	return n == 1, nil
}

// ClaimNextSubmission claims the oldest submission awaiting analysis. It returns
// nil when nothing is claimable.
func (s *Store) ClaimNextSubmission(ctx context.Context, workerID string, now time.Time) (*Submission, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		err := s.get(ctx, &id,
			`SELECT id FROM submissions WHERE status = ? ORDER BY created_at, id LIMIT 1`,
			string(StatusIntake),
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, infraError("claim submission", err)
		}
		claimed, err := s.BeginAnalysis(ctx, id, workerID, now)
		if err != nil {
			return nil, err
		}
		if claimed {
			return s.GetSubmission(ctx, id)
		}
	}
	return nil, nil
}

// UpdateSubmissionHeartbeat refreshes the liveness timestamp of an in-flight analysis.
func (s *Store) UpdateSubmissionHeartbeat(ctx context.Context, id string, now time.Time) error {
	timestamp := formatTime(normalizeNow(now))
	if _, err := s.exec(ctx,
		`UPDATE submissions SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		timestamp, timestamp, id, string(StatusAnalyzing),
	); err != nil {
		return infraError("update heartbeat", err)
	}
	return nil
}

// CompleteAnalysis records the verdict and every provider result in one
// transaction. It fails with ErrConflict unless the submission is analyzing, so
// results are written exactly once.
func (s *Store) CompleteAnalysis(ctx context.Context, id string, summary AnalysisSummary, results []AnalysisResult, now time.Time) error {
	now = normalizeNow(now)
	timestamp := formatTime(now)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := txExec(ctx, tx,
			`UPDATE submissions
             SET status = ?, disposition = ?, summary_json = ?, completed_at = ?, updated_at = ?,
                 last_heartbeat = NULL, error_message = NULL
             WHERE id = ? AND status = ?`,
			string(StatusCompleted), string(summary.Disposition), marshalJSON(summary, "{}"),
			timestamp, timestamp, id, string(StatusAnalyzing),
		)
		if err != nil {
			return err
		}
		if n, err := rowsAffected(res); err != nil {
			return err
		} else if n == 0 {
			return rollback(s.transitionConflict(ctx, tx, id, "complete analysis"))
		}
		for _, result := range results {
			if _, err := txExec(ctx, tx,
				`INSERT INTO analysis_results (
                    submission_id, provider, outcome, risk_score, flags_json, recommendations,
                    metadata_json, error_text, duration_ms, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id,
				result.Provider,
				string(result.Outcome),
				result.RiskScore,
				marshalJSON(nonNilStrings(result.Flags), "[]"),
				result.Recommendations,
				marshalJSON(result.Metadata, "{}"),
				nullableString(result.Error),
				result.DurationMS,
				timestamp,
			); err != nil {
				if isUniqueViolation(err) {
					return rollback(services.Wrap(services.ErrConflict, "store", "complete analysis",
						fmt.Sprintf("result for provider %s already recorded", result.Provider), err))
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if services.Classify(err) != services.KindUnknown {
			return err
		}
		return infraError("complete analysis", err)
	}
	return nil
}

// FailAnalysis moves an analyzing submission to the terminal failed state.
func (s *Store) FailAnalysis(ctx context.Context, id, message string, now time.Time) error {
	timestamp := formatTime(normalizeNow(now))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := txExec(ctx, tx,
			`UPDATE submissions
             SET status = ?, error_message = ?, completed_at = ?, updated_at = ?, last_heartbeat = NULL
             WHERE id = ? AND status = ?`,
			string(StatusFailed), message, timestamp, timestamp, id, string(StatusAnalyzing),
		)
		if err != nil {
			return err
		}
		if n, err := rowsAffected(res); err != nil {
			return err
		} else if n == 0 {
			return rollback(s.transitionConflict(ctx, tx, id, "fail analysis"))
		}
		return nil
	})
	if err != nil {
		if services.Classify(err) != services.KindUnknown {
			return err
		}
		return infraError("fail analysis", err)
	}
	return nil
}

func (s *Store) transitionConflict(ctx context.Context, tx *sqlx.Tx, id, operation string) error {
	var status string
	err := tx.GetContext(ctx, &status, tx.Rebind(`SELECT status FROM submissions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "store", operation, fmt.Sprintf("submission %s not found", id), nil)
	}
	if err != nil {
		return infraError(operation, err)
	}
	return services.Wrap(services.ErrConflict, "store", operation,
		fmt.Sprintf("submission %s is %s, not %s", id, status, StatusAnalyzing), nil)
}

// FailStaleAnalyses fails analyzing submissions whose heartbeat is older than cutoff.
func (s *Store) FailStaleAnalyses(ctx context.Context, cutoff time.Time, message string, now time.Time) (int64, error) {
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE submissions
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE status = ? AND COALESCE(last_heartbeat, started_at, updated_at) < ?`,
		string(StatusFailed), message, timestamp, timestamp,
		string(StatusAnalyzing), formatTime(cutoff),
	)
	if err != nil {
		return 0, infraError("fail stale analyses", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return 0, infraError("fail stale analyses", err)
	}
	return n, nil
}

type resultRow struct {
	SubmissionID    string         `db:"submission_id"`
	Provider        string         `db:"provider"`
	Outcome         string         `db:"outcome"`
	RiskScore       float64        `db:"risk_score"`
	FlagsJSON       string         `db:"flags_json"`
	Recommendations string         `db:"recommendations"`
	MetadataJSON    string         `db:"metadata_json"`
	ErrorText       sql.NullString `db:"error_text"`
	DurationMS      int64          `db:"duration_ms"`
	CreatedAt       string         `db:"created_at"`
}

// ListResults returns the provider results recorded for a submission.
func (s *Store) ListResults(ctx context.Context, submissionID string) ([]AnalysisResult, error) {
	var rows []resultRow
	if err := s.selectRows(ctx, &rows,
		`SELECT submission_id, provider, outcome, risk_score, flags_json, recommendations,
                metadata_json, error_text, duration_ms, created_at
         FROM analysis_results WHERE submission_id = ? ORDER BY provider`,
		submissionID,
	); err != nil {
		return nil, infraError("list results", err)
	}
	out := make([]AnalysisResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, AnalysisResult{
			SubmissionID:    row.SubmissionID,
			Provider:        row.Provider,
			Outcome:         ResultOutcome(row.Outcome),
			RiskScore:       row.RiskScore,
			Flags:           unmarshalStrings(row.FlagsJSON),
			Recommendations: row.Recommendations,
			Metadata:        unmarshalStringMap(row.MetadataJSON),
			Error:           row.ErrorText.String,
			DurationMS:      row.DurationMS,
			CreatedAt:       parseTime(row.CreatedAt),
		})
	}
	return out, nil
}

// SubmissionStats returns a count of submissions grouped by status.
func (s *Store) SubmissionStats(ctx context.Context) (map[SubmissionStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.selectRows(ctx, &rows, `SELECT status, COUNT(1) AS count FROM submissions GROUP BY status`); err != nil {
		return nil, infraError("submission stats", err)
	}
	stats := make(map[SubmissionStatus]int, len(rows))
	for _, row := range rows {
		stats[SubmissionStatus(row.Status)] = row.Count
	}
	return stats, nil
}

// PaymentHistory summarizes the submitter's other payment submissions. Recent
// counts those created at or after since.
func (s *Store) PaymentHistory(ctx context.Context, submitterID, excludeID string, since time.Time) (PaymentHistory, error) {
	var row struct {
		Count   int     `db:"count"`
		Average float64 `db:"average"`
		Recent  int     `db:"recent"`
	}
	err := s.get(ctx, &row,
		`SELECT COUNT(1) AS count,
                COALESCE(AVG(amount), 0) AS average,
                COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS recent
         FROM submissions
         WHERE submitter_id = ? AND kind = ? AND id <> ? AND amount IS NOT NULL`,
		formatTime(since), submitterID, string(KindPayment), excludeID,
	)
	if err != nil {
		return PaymentHistory{}, infraError("payment history", err)
	}
	return PaymentHistory{Count: row.Count, RecentCount: row.Recent, AverageAmount: row.Average}, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
