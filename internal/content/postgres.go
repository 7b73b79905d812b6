package content

import (
	"context"
	"database/sql"
	"errors"

	"edvault.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const unitColumns = `id, publisher_id, title, kind, status, mapping_count, mapping_state, required_mappings,
	watermark_enabled, session_expiry_minutes, activated_at, activated_by,
	deactivated_at, deactivated_by, deactivate_reason, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, u *Unit, mappings []Mapping) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`insert into content_units(id, publisher_id, title, kind, status, mapping_count, mapping_state,
		 required_mappings, watermark_enabled, session_expiry_minutes, activated_at, activated_by)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.PublisherID, u.Title, u.Kind, u.Status, u.MappingCount, u.MappingState,
		u.RequiredMappings, u.WatermarkEnabled, u.SessionExpiryMinutes, u.ActivatedAt, emptyToNull(u.ActivatedBy),
	)
	if err != nil {
		return err
	}
	for i := range mappings {
		m := &mappings[i]
		if m.ID == "" {
			m.ID = ids.New()
		}
		m.UnitID = u.ID
		_, err := tx.ExecContext(ctx,
			`insert into content_mappings(id, unit_id, competency_id) values($1,$2,$3)`,
			m.ID, m.UnitID, m.CompetencyID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) Find(ctx context.Context, id string) (*Unit, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+unitColumns+` from content_units where id=$1`, id)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Transition succeeds only while the row still carries the expected source
// status. Zero affected rows means a concurrent transition won.
func (s *PGStore) Transition(ctx context.Context, id string, from, to UnitStatus, stamp TransitionStamp) error {
	var (
		res sql.Result
		err error
	)
	if to == UnitActive {
		res, err = s.db.ExecContext(ctx,
			`update content_units set status=$3, activated_at=$4, activated_by=$5, updated_at=now()
			 where id=$1 and status=$2`,
			id, from, to, stamp.At, emptyToNull(stamp.Actor))
	} else {
		res, err = s.db.ExecContext(ctx,
			`update content_units set status=$3, deactivated_at=$4, deactivated_by=$5, deactivate_reason=$6, updated_at=now()
			 where id=$1 and status=$2`,
			id, from, to, stamp.At, emptyToNull(stamp.Actor), stamp.Reason)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PGStore) AddMapping(ctx context.Context, m *Mapping) (*Unit, error) {
	if m.ID == "" {
		m.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into content_mappings(id, unit_id, competency_id) values($1,$2,$3)`,
		m.ID, m.UnitID, m.CompetencyID,
	); err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx,
		`update content_units set
		   mapping_count = mapping_count + 1,
		   mapping_state = case when mapping_count + 1 >= required_mappings then 'complete' else 'partial' end,
		   updated_at = now()
		 where id=$1
		 returning `+unitColumns, m.UnitID)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PGStore) ListActiveByPublisher(ctx context.Context, publisherID string) ([]*Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+unitColumns+` from content_units where publisher_id=$1 and status=$2 order by created_at`,
		publisherID, UnitActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*Unit, error) {
	var (
		u             Unit
		activatedAt   sql.NullTime
		activatedBy   sql.NullString
		deactivatedAt sql.NullTime
		deactivatedBy sql.NullString
		reason        sql.NullString
	)
	err := row.Scan(&u.ID, &u.PublisherID, &u.Title, &u.Kind, &u.Status, &u.MappingCount,
		&u.MappingState, &u.RequiredMappings, &u.WatermarkEnabled, &u.SessionExpiryMinutes,
		&activatedAt, &activatedBy, &deactivatedAt, &deactivatedBy, &reason,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		u.ActivatedAt = &t
	}
	u.ActivatedBy = activatedBy.String
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		u.DeactivatedAt = &t
	}
	u.DeactivatedBy = deactivatedBy.String
	u.DeactivateReason = reason.String
	return &u, nil
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
