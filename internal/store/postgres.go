package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"evsite/internal/model"
)

type Postgres struct {
	db  *sql.DB
	dsn string
	log *zap.Logger
}

func NewPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, dsn: dsn, log: log}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies pending migrations from dir. The migrate driver closes
// the connection it is given, so it runs on its own pool.
func (p *Postgres) MigrateDir(dir string) error {
	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			p.log.Warn("close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			p.log.Warn("close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		p.log.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	version, _, _ := m.Version()
	p.log.Info("applied migrations", zap.Uint("version", version))
	return nil
}

// SavePlan writes the plan, its site table and its allocations in one
// transaction. Saving an existing id replaces its rows.
func (p *Postgres) SavePlan(ctx context.Context, plan model.Plan) error {
	if plan.Country == "" {
		return fmt.Errorf("save plan: missing country")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(plan.Parameters)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(){ _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM plans WHERE id=$1`, plan.ID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO plans (id, country, status, objective, sites_built, nodes, solve_millis, parameters, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		plan.ID, strings.ToUpper(plan.Country), plan.Status, plan.Objective, plan.SitesBuilt, plan.Nodes, plan.SolveMillis, params, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for seq, s := range plan.Sites {
		_, err = tx.ExecContext(ctx, `INSERT INTO plan_sites (plan_id, seq, site_id, admin_name, lat, lng, build, value, minimized_cost, distance_km, allocated_demand, served_customers)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			plan.ID, seq, s.SiteID, s.AdminName, s.Location.Lat, s.Location.Lng, s.Build, s.Value, s.MinimizedCost, s.DistanceKm, s.AllocatedDemand, s.ServedCustomers)
		if err != nil {
			return fmt.Errorf("insert plan site %s: %w", s.SiteID, err)
		}
	}
	for seq, a := range plan.Allocations {
		_, err = tx.ExecContext(ctx, `INSERT INTO plan_allocations (plan_id, seq, customer_id, site_id, quantity, access_cost) VALUES ($1,$2,$3,$4,$5,$6)`,
			plan.ID, seq, a.CustomerID, a.SiteID, a.Quantity, a.Cost)
		if err != nil {
			return fmt.Errorf("insert plan allocation: %w", err)
		}
	}
	return tx.Commit()
}

const planColumns = `id::text, country, status, objective, sites_built, nodes, solve_millis, parameters, created_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanPlan(r rowScanner) (model.Plan, error) {
	var pl model.Plan
	var params []byte
	if err := r.Scan(&pl.ID, &pl.Country, &pl.Status, &pl.Objective, &pl.SitesBuilt, &pl.Nodes, &pl.SolveMillis, &params, &pl.CreatedAt); err != nil {
		return pl, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &pl.Parameters); err != nil {
			return pl, err
		}
	}
	return pl, nil
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Plan{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=$1`, id)
	return p.loadPlan(ctx, row)
}

func (p *Postgres) LatestPlan(ctx context.Context, iso3 string) (model.Plan, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE country=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, strings.ToUpper(iso3))
	return p.loadPlan(ctx, row)
}

func (p *Postgres) loadPlan(ctx context.Context, row *sql.Row) (model.Plan, error) {
	pl, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Plan{}, ErrNotFound
	}
	if err != nil {
		return model.Plan{}, err
	}
	if err := p.loadDetails(ctx, &pl); err != nil {
		return model.Plan{}, err
	}
	return pl, nil
}

func (p *Postgres) loadDetails(ctx context.Context, pl *model.Plan) error {
	rows, err := p.db.QueryContext(ctx, `SELECT site_id, admin_name, lat, lng, build, value, minimized_cost, distance_km, allocated_demand, served_customers
        FROM plan_sites WHERE plan_id=$1 ORDER BY seq`, pl.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var s model.SiteDecision
		if err := rows.Scan(&s.SiteID, &s.AdminName, &s.Location.Lat, &s.Location.Lng, &s.Build, &s.Value, &s.MinimizedCost, &s.DistanceKm, &s.AllocatedDemand, &s.ServedCustomers); err != nil {
			rows.Close()
			return err
		}
		pl.Sites = append(pl.Sites, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT customer_id, site_id, quantity, access_cost FROM plan_allocations WHERE plan_id=$1 ORDER BY seq`, pl.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Allocation
		if err := rows.Scan(&a.CustomerID, &a.SiteID, &a.Quantity, &a.Cost); err != nil {
			return err
		}
		pl.Allocations = append(pl.Allocations, a)
	}
	return rows.Err()
}

// ListPlans returns plan headers with their site tables; allocations are
// only loaded by GetPlan and LatestPlan.
func (p *Postgres) ListPlans(ctx context.Context, iso3, cursor string, limit int) ([]model.Plan, string, error) {
	limit = clampLimit(limit)
	where := []string{}
	args := []any{}
	if iso3 != "" {
		args = append(args, strings.ToUpper(iso3))
		where = append(where, fmt.Sprintf("country=$%d", len(args)))
	}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", fmt.Errorf("invalid cursor")
		}
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM plans WHERE id=$%d)", len(args)))
	}
	q := `SELECT ` + planColumns + ` FROM plans`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	out := []model.Plan{}
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, "", err
		}
		out = append(out, pl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	for i := range out {
		if err := p.loadSites(ctx, &out[i]); err != nil {
			return nil, "", err
		}
	}
	return out, next, nil
}

func (p *Postgres) loadSites(ctx context.Context, pl *model.Plan) error {
	full := *pl
	if err := p.loadDetails(ctx, &full); err != nil {
		return err
	}
	pl.Sites = full.Sites
	return nil
}
