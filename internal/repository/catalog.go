package repository

import (
	"context"
	"database/sql"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

const moduleColumns = `module_id, name, slug, endpoint, trigger_type, premium_only, created_at`

func scanModule(row rowScanner) (*domain.ModuleDescriptor, error) {
	var module domain.ModuleDescriptor
	var premium int
	var createdAt int64
	if err := row.Scan(&module.ID, &module.Name, &module.Slug, &module.Endpoint, &module.TriggerType,
		&premium, &createdAt); err != nil {
		return nil, err
	}
	module.PremiumOnly = premium != 0
	module.CreatedAt = fromMillis(createdAt)
	return &module, nil
}

// UpsertModule creates or updates a module descriptor. created_at is kept from
// the first insert.
func (s *SQLiteStore) UpsertModule(ctx context.Context, module *domain.ModuleDescriptor) error {
	premium := 0
	if module.PremiumOnly {
		premium = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (`+moduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(module_id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			endpoint = excluded.endpoint,
			trigger_type = excluded.trigger_type,
			premium_only = excluded.premium_only`,
		module.ID, module.Name, module.Slug, module.Endpoint, module.TriggerType, premium, toMillis(module.CreatedAt))
	return err
}

// GetModule retrieves a module by ID.
func (s *SQLiteStore) GetModule(ctx context.Context, moduleID string) (*domain.ModuleDescriptor, error) {
	return s.getModule(ctx, `SELECT `+moduleColumns+` FROM modules WHERE module_id = ?`, moduleID)
}

// GetModuleBySlug retrieves a module by slug.
func (s *SQLiteStore) GetModuleBySlug(ctx context.Context, slug string) (*domain.ModuleDescriptor, error) {
	return s.getModule(ctx, `SELECT `+moduleColumns+` FROM modules WHERE slug = ?`, slug)
}

func (s *SQLiteStore) getModule(ctx context.Context, query string, arg any) (*domain.ModuleDescriptor, error) {
	module, err := scanModule(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return module, nil
}

// ListModules lists all modules ordered by slug.
func (s *SQLiteStore) ListModules(ctx context.Context) ([]domain.ModuleDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY slug ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modules := []domain.ModuleDescriptor{}
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *module)
	}
	return modules, rows.Err()
}

// UpsertProfile creates or replaces a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *domain.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, email, full_name, plan_name, credit_balance, status, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			plan_name = excluded.plan_name,
			credit_balance = excluded.credit_balance,
			status = excluded.status,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		profile.UserID, profile.Email, profile.FullName, profile.PlanName, profile.CreditBalance,
		profile.Status, profile.Role, toMillis(profile.CreatedAt), toMillis(profile.UpdatedAt))
	return err
}

// GetProfile retrieves a profile by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, full_name, plan_name, credit_balance, status, role, created_at, updated_at
		 FROM profiles WHERE user_id = ?`, userID).
		Scan(&profile.UserID, &profile.Email, &profile.FullName, &profile.PlanName, &profile.CreditBalance,
			&profile.Status, &profile.Role, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile.CreatedAt = fromMillis(createdAt)
	profile.UpdatedAt = fromMillis(updatedAt)
	return &profile, nil
}
