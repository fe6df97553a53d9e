package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

const groupColumns = `id, name, creator_id, contribution_amount::text,
	max_members, current_members, group_type, status, is_private,
	requires_approval, restart_on_completion, total_pool::text,
	next_payout_date, current_cycle, version, created_at, updated_at`

func (s *Store) CreateGroup(ctx context.Context, g domain.Group) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, name, creator_id, contribution_amount, max_members,
			current_members, group_type, status, is_private, requires_approval,
			restart_on_completion, total_pool, next_payout_date, current_cycle,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		g.ID, g.Name, g.CreatorID, g.ContributionAmount, g.MaxMembers,
		g.CurrentMembers, g.GroupType, g.Status, g.IsPrivate, g.RequiresApproval,
		g.RestartOnCompletion, g.TotalPool, g.NextPayoutDate, g.CurrentCycle,
		g.Version, g.CreatedAt, g.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
	return scanGroup(row)
}

// UpdateGroup performs a compare-and-swap on version. Zero rows affected
// with an existing group means another writer won the race.
func (s *Store) UpdateGroup(ctx context.Context, g domain.Group) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE groups SET name=$2, current_members=$3, status=$4, total_pool=$5,
			next_payout_date=$6, current_cycle=$7, version=version+1, updated_at=$8
		WHERE id = $1 AND version = $9`,
		g.ID, g.Name, g.CurrentMembers, g.Status, g.TotalPool,
		g.NextPayoutDate, g.CurrentCycle, g.UpdatedAt, g.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetGroup(ctx, g.ID); getErr != nil {
			return getErr
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context, status domain.GroupStatus) ([]domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(row pgx.Row) (domain.Group, error) {
	var (
		g                 domain.Group
		contribution      string
		pool              string
		groupType, status string
	)
	err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &contribution,
		&g.MaxMembers, &g.CurrentMembers, &groupType, &status, &g.IsPrivate,
		&g.RequiresApproval, &g.RestartOnCompletion, &pool,
		&g.NextPayoutDate, &g.CurrentCycle, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Group{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Group{}, err
	}
	if g.ContributionAmount, err = scanDecimal(contribution); err != nil {
		return domain.Group{}, err
	}
	if g.TotalPool, err = scanDecimal(pool); err != nil {
		return domain.Group{}, err
	}
	g.GroupType = domain.GroupType(groupType)
	g.Status = domain.GroupStatus(status)
	return g, nil
}

// --- members ---

const memberColumns = `group_id, user_id, role, status, payout_position,
	total_contributed::text, is_compliant, has_received_payout, joined_at`

func (s *Store) AddMember(ctx context.Context, m domain.GroupMember) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, status, payout_position,
			total_contributed, is_compliant, has_received_payout, joined_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.GroupID, m.UserID, m.Role, m.Status, m.PayoutPosition,
		m.TotalContributed, m.IsCompliant, m.HasReceivedPayout, m.JoinedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetMember(ctx context.Context, groupID, userID string) (domain.GroupMember, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID)
	return scanMember(row)
}

func (s *Store) UpdateMember(ctx context.Context, m domain.GroupMember) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE group_members SET role=$3, status=$4, payout_position=$5,
			total_contributed=$6, is_compliant=$7, has_received_payout=$8
		WHERE group_id = $1 AND user_id = $2`,
		m.GroupID, m.UserID, m.Role, m.Status, m.PayoutPosition,
		m.TotalContributed, m.IsCompliant, m.HasReceivedPayout)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM group_members
		 WHERE group_id = $1 ORDER BY payout_position, user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GroupMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMember(row pgx.Row) (domain.GroupMember, error) {
	var (
		m            domain.GroupMember
		contributed  string
		role, status string
	)
	err := row.Scan(&m.GroupID, &m.UserID, &role, &status, &m.PayoutPosition,
		&contributed, &m.IsCompliant, &m.HasReceivedPayout, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GroupMember{}, store.ErrNotFound
	}
	if err != nil {
		return domain.GroupMember{}, err
	}
	if m.TotalContributed, err = scanDecimal(contributed); err != nil {
		return domain.GroupMember{}, err
	}
	m.Role = domain.MemberRole(role)
	m.Status = domain.MemberStatus(status)
	return m, nil
}

// --- payout draws ---

func (s *Store) InsertPayoutDraw(ctx context.Context, d domain.PayoutDraw) error {
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO payout_draws (id, group_id, cycle, seed, candidates, winner_id, drawn_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.GroupID, d.Cycle, d.Seed, candidates, d.WinnerID, d.DrawnAt)
	return err
}

func (s *Store) ListPayoutDraws(ctx context.Context, groupID string) ([]domain.PayoutDraw, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, cycle, seed, candidates, winner_id, drawn_at
		FROM payout_draws WHERE group_id = $1 ORDER BY drawn_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PayoutDraw
	for rows.Next() {
		var (
			d   domain.PayoutDraw
			raw []byte
			ts  time.Time
		)
		if err := rows.Scan(&d.ID, &d.GroupID, &d.Cycle, &d.Seed, &raw, &d.WinnerID, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &d.Candidates); err != nil {
			return nil, err
		}
		d.DrawnAt = ts
		out = append(out, d)
	}
	return out, rows.Err()
}
