package indexdb

import (
	"context"
	"database/sql"
)

type SessionSummary struct {
	ID        string
	Viewer    string
	StartedAt string
	EndedAt   string
	Worlds    int
	Generated int
	Failures  int
}

// Session summarises what the index holds for one viewer session.
func (s *SQLiteIndex) Session(ctx context.Context, id string) (SessionSummary, bool, error) {
	out := SessionSummary{ID: id}
	var ended sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT viewer, started_at, ended_at FROM sessions WHERE session_id=?`, id).
		Scan(&out.Viewer, &out.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.EndedAt = ended.String

	counts := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(*) FROM worlds WHERE session_id=?`, &out.Worlds},
		{`SELECT COUNT(*) FROM chunk_generations WHERE session_id=? AND status='ok'`, &out.Generated},
		{`SELECT COUNT(*) FROM chunk_failures WHERE session_id=?`, &out.Failures},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.q, id).Scan(c.dst); err != nil {
			return out, true, err
		}
	}
	return out, true, nil
}

// DominantBiomes counts generated chunks per dominant biome for one epoch.
func (s *SQLiteIndex) DominantBiomes(ctx context.Context, session string, epoch uint64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dominant, COUNT(*) FROM chunk_generations WHERE session_id=? AND epoch=? AND status='ok' GROUP BY dominant`,
		session, int64(epoch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
