package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ignite/member-messaging/internal/domain"
)

// leadColumns are the filterable columns on the leads table. Filter keys
// outside this set match against the attributes JSONB instead, never raw
// SQL identifiers.
var leadColumns = map[string]bool{
	"status":          true,
	"membership_type": true,
	"location":        true,
	"source":          true,
}

// LeadStore reads the external contact store. It serves campaign audience
// resolution and attribute lookups for step condition evaluation; the
// engine never writes to it.
type LeadStore struct{ db *sql.DB }

// NewLeadStore creates a Postgres-backed lead store.
func NewLeadStore(db *sql.DB) *LeadStore { return &LeadStore{db: db} }

// FindByFilter resolves an audience filter to a point-in-time list of
// leads. Only the leads source is supported. A limit > 0 caps the result
// in the query itself.
func (s *LeadStore) FindByFilter(ctx context.Context, f domain.AudienceFilter, limit int) ([]domain.Lead, error) {
	if f.Source != "" && f.Source != "leads" {
		return nil, fmt.Errorf("unknown audience source %q", f.Source)
	}

	q := `
		SELECT id, COALESCE(email,''), COALESCE(phone,''),
		       COALESCE(first_name,''), COALESCE(full_name,''),
		       COALESCE(attributes,'{}')
		FROM leads`
	keys := make([]string, 0, len(f.Filters))
	for k := range f.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []interface{}{}
	idx := 1
	clause := " WHERE"
	for _, key := range keys {
		val := f.Filters[key]
		if leadColumns[key] {
			q += fmt.Sprintf("%s %s = $%d", clause, key, idx)
		} else {
			q += fmt.Sprintf("%s attributes->>$%d = $%d", clause, idx, idx+1)
			args = append(args, key)
			idx++
		}
		args = append(args, val)
		idx++
		clause = " AND"
	}
	q += " ORDER BY created_at"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		var l domain.Lead
		var attrs []byte
		if err := rows.Scan(&l.ID, &l.Email, &l.Phone, &l.FirstName, &l.FullName, &attrs); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
			return nil, fmt.Errorf("decode lead attributes: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Attributes returns the latest attribute snapshot for a recipient, keyed
// by email. Unknown recipients get an empty map so condition evaluation
// fails closed on missing keys rather than erroring.
func (s *LeadStore) Attributes(ctx context.Context, email string) (map[string]string, error) {
	var (
		firstName string
		fullName  string
		raw       []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(first_name,''), COALESCE(full_name,''), COALESCE(attributes,'{}')
		FROM leads
		WHERE email = $1
	`, email).Scan(&firstName, &fullName, &raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lead attributes: %w", err)
	}

	attrs := map[string]string{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode lead attributes: %w", err)
	}
	if firstName != "" {
		attrs["firstName"] = firstName
	}
	if fullName != "" {
		attrs["name"] = fullName
	}
	return attrs, nil
}
