package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sentinel/internal/services"
)

const trustColumns = `user_id, verification_score, transaction_score, community_score, cultural_score, overall_score,
    total_transactions, successful_transactions, disputes, reports_received, helpful_marks,
    verified_cultural_items, upheld_cultural_flags, account_flagged, flag_reason, flagged_at,
    version, computed_at, created_at, updated_at`

// NeutralScore is the sub-score every new user starts with.
const NeutralScore = 5.0

type trustRow struct {
	UserID                 string         `db:"user_id"`
	Verification           float64        `db:"verification_score"`
	Transaction            float64        `db:"transaction_score"`
	Community              float64        `db:"community_score"`
	Cultural               float64        `db:"cultural_score"`
	Overall                float64        `db:"overall_score"`
	TotalTransactions      int64          `db:"total_transactions"`
	SuccessfulTransactions int64          `db:"successful_transactions"`
	Disputes               int64          `db:"disputes"`
	ReportsReceived        int64          `db:"reports_received"`
	HelpfulMarks           int64          `db:"helpful_marks"`
	VerifiedCulturalItems  int64          `db:"verified_cultural_items"`
	UpheldCulturalFlags    int64          `db:"upheld_cultural_flags"`
	AccountFlagged         int            `db:"account_flagged"`
	FlagReason             sql.NullString `db:"flag_reason"`
	FlaggedAt              sql.NullString `db:"flagged_at"`
	Version                int64          `db:"version"`
	ComputedAt             sql.NullString `db:"computed_at"`
	CreatedAt              string         `db:"created_at"`
	UpdatedAt              string         `db:"updated_at"`
}

func (r trustRow) toTrust() *TrustScore {
	return &TrustScore{
		UserID: r.UserID,
		Scores: TrustScores{
			Verification: r.Verification,
			Transaction:  r.Transaction,
			Community:    r.Community,
			Cultural:     r.Cultural,
			Overall:      r.Overall,
		},
		Counters: TrustCounters{
			TotalTransactions:      r.TotalTransactions,
			SuccessfulTransactions: r.SuccessfulTransactions,
			Disputes:               r.Disputes,
			ReportsReceived:        r.ReportsReceived,
			HelpfulMarks:           r.HelpfulMarks,
			VerifiedCulturalItems:  r.VerifiedCulturalItems,
			UpheldCulturalFlags:    r.UpheldCulturalFlags,
		},
		AccountFlag: r.AccountFlagged != 0,
		FlagReason:  r.FlagReason.String,
		FlaggedAt:   parseNullTime(r.FlaggedAt),
		Version:     r.Version,
		ComputedAt:  parseNullTime(r.ComputedAt),
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

// EnsureTrust creates a neutral trust row for the user when none exists and
// returns the current row.
func (s *Store) EnsureTrust(ctx context.Context, userID string, now time.Time) (*TrustScore, error) {
	if err := s.ensureTrustRow(ctx, userID, now); err != nil {
		return nil, err
	}
	return s.GetTrust(ctx, userID)
}

func (s *Store) ensureTrustRow(ctx context.Context, userID string, now time.Time) error {
	if userID == "" {
		return services.Invalid("user_id", "required")
	}
	timestamp := formatTime(normalizeNow(now))
	if _, err := s.exec(ctx,
		`INSERT INTO trust_scores (user_id, created_at, updated_at) VALUES (?, ?, ?)
         ON CONFLICT (user_id) DO NOTHING`,
		userID, timestamp, timestamp,
	); err != nil {
		return infraError("ensure trust", err)
	}
	return nil
}

// GetTrust fetches a user's trust row including approved verifications.
func (s *Store) GetTrust(ctx context.Context, userID string) (*TrustScore, error) {
	var row trustRow
	err := s.get(ctx, &row, `SELECT `+trustColumns+` FROM trust_scores WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get trust", fmt.Sprintf("no trust score for user %s", userID), nil)
	}
	if err != nil {
		return nil, infraError("get trust", err)
	}
	trust := row.toTrust()

	var verifications []string
	if err := s.selectRows(ctx, &verifications,
		`SELECT verification_type FROM trust_verifications WHERE user_id = ? ORDER BY verification_type`,
		userID,
	); err != nil {
		return nil, infraError("get trust verifications", err)
	}
	trust.Verifications = verifications
	return trust, nil
}

// IncrementTrustCounters atomically adds delta to the user's counters and bumps
// the row version so in-flight recomputes retry with fresh inputs.
func (s *Store) IncrementTrustCounters(ctx context.Context, userID string, delta TrustCounters, now time.Time) error {
	if err := s.ensureTrustRow(ctx, userID, now); err != nil {
		return err
	}
	if _, err := s.exec(ctx,
		`UPDATE trust_scores
         SET total_transactions = total_transactions + ?,
             successful_transactions = successful_transactions + ?,
             disputes = disputes + ?,
             reports_received = reports_received + ?,
             helpful_marks = helpful_marks + ?,
             verified_cultural_items = verified_cultural_items + ?,
             upheld_cultural_flags = upheld_cultural_flags + ?,
             version = version + 1,
             updated_at = ?
         WHERE user_id = ?`,
		delta.TotalTransactions,
		delta.SuccessfulTransactions,
		delta.Disputes,
		delta.ReportsReceived,
		delta.HelpfulMarks,
		delta.VerifiedCulturalItems,
		delta.UpheldCulturalFlags,
		formatTime(normalizeNow(now)),
		userID,
	); err != nil {
		return infraError("increment trust counters", err)
	}
	return nil
}

// AddVerification records an approved verification type. Approving the same
// type twice is a no-op.
func (s *Store) AddVerification(ctx context.Context, userID, verificationType string, now time.Time) error {
	if err := s.ensureTrustRow(ctx, userID, now); err != nil {
		return err
	}
	timestamp := formatTime(normalizeNow(now))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := txExec(ctx, tx,
			`INSERT INTO trust_verifications (user_id, verification_type, approved_at) VALUES (?, ?, ?)
             ON CONFLICT (user_id, verification_type) DO NOTHING`,
			userID, verificationType, timestamp,
		)
		if err != nil {
			return err
		}
		if n, err := rowsAffected(res); err != nil || n == 0 {
			return err
		}
		_, err = txExec(ctx, tx,
			`UPDATE trust_scores SET version = version + 1, updated_at = ? WHERE user_id = ?`,
			timestamp, userID,
		)
		return err
	})
	if err != nil {
		return infraError("add verification", err)
	}
	return nil
}

// SaveTrustScores writes recomputed sub-scores if the row is still at
// expectedVersion. It reports false when a concurrent writer got there first.
func (s *Store) SaveTrustScores(ctx context.Context, userID string, expectedVersion int64, scores TrustScores, now time.Time) (bool, error) {
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE trust_scores
         SET verification_score = ?, transaction_score = ?, community_score = ?, cultural_score = ?,
             overall_score = ?, version = version + 1, computed_at = ?, updated_at = ?
         WHERE user_id = ? AND version = ?`,
		scores.Verification, scores.Transaction, scores.Community, scores.Cultural, scores.Overall,
		timestamp, timestamp, userID, expectedVersion,
	)
	if err != nil {
		return false, infraError("save trust scores", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, infraError("save trust scores", err)
	}
	return n == 1, nil
}

// FlagAccount sets the account security flag and appends to the flag history
// in one transaction.
func (s *Store) FlagAccount(ctx context.Context, flag AccountFlag) (*AccountFlag, error) {
	if flag.UserID == "" {
		return nil, services.Invalid("user_id", "required")
	}
	if flag.ID == "" {
		flag.ID = newID()
	}
	flag.CreatedAt = normalizeNow(flag.CreatedAt)
	if err := s.ensureTrustRow(ctx, flag.UserID, flag.CreatedAt); err != nil {
		return nil, err
	}
	timestamp := formatTime(flag.CreatedAt)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := txExec(ctx, tx,
			`UPDATE trust_scores
             SET account_flagged = 1, flag_reason = ?, flagged_at = ?, version = version + 1, updated_at = ?
             WHERE user_id = ?`,
			flag.Reason, timestamp, timestamp, flag.UserID,
		); err != nil {
			return err
		}
		_, err := txExec(ctx, tx,
			`INSERT INTO account_flags (id, user_id, reason, submission_id, risk_score, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			flag.ID, flag.UserID, flag.Reason, nullableString(flag.SubmissionID), flag.RiskScore, timestamp,
		)
		return err
	})
	if err != nil {
		return nil, infraError("flag account", err)
	}
	return &flag, nil
}

// ClearAccountFlag lifts the security flag. History rows are kept.
func (s *Store) ClearAccountFlag(ctx context.Context, userID string, now time.Time) error {
	timestamp := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE trust_scores
         SET account_flagged = 0, flag_reason = NULL, flagged_at = NULL, version = version + 1, updated_at = ?
         WHERE user_id = ?`,
		timestamp, userID,
	)
	if err != nil {
		return infraError("clear account flag", err)
	}
	if n, err := rowsAffected(res); err != nil {
		return infraError("clear account flag", err)
	} else if n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "clear account flag", fmt.Sprintf("no trust score for user %s", userID), nil)
	}
	return nil
}

type accountFlagRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Reason       string         `db:"reason"`
	SubmissionID sql.NullString `db:"submission_id"`
	RiskScore    float64        `db:"risk_score"`
	CreatedAt    string         `db:"created_at"`
}

// ListAccountFlags returns a user's security flag history, oldest first.
func (s *Store) ListAccountFlags(ctx context.Context, userID string) ([]AccountFlag, error) {
	var rows []accountFlagRow
	if err := s.selectRows(ctx, &rows,
		`SELECT id, user_id, reason, submission_id, risk_score, created_at
         FROM account_flags WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	); err != nil {
		return nil, infraError("list account flags", err)
	}
	out := make([]AccountFlag, 0, len(rows))
	for _, row := range rows {
		out = append(out, AccountFlag{
			ID:           row.ID,
			UserID:       row.UserID,
			Reason:       row.Reason,
			SubmissionID: row.SubmissionID.String,
			RiskScore:    row.RiskScore,
			CreatedAt:    parseTime(row.CreatedAt),
		})
	}
	return out, nil
}

// ListStaleTrust returns users whose scores were never computed or were last
// computed before cutoff, least recently computed first.
func (s *Store) ListStaleTrust(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var users []string
	if err := s.selectRows(ctx, &users,
		`SELECT user_id FROM trust_scores
         WHERE computed_at IS NULL OR computed_at < ?
         ORDER BY COALESCE(computed_at, created_at), user_id
         LIMIT ?`,
		formatTime(cutoff), limit,
	); err != nil {
		return nil, infraError("list stale trust", err)
	}
	return users, nil
}
