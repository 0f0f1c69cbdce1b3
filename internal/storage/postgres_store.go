package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/example/food-rescue/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate executes the SQL file at path as a single statement batch.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const supplierCols = `id, name, lat, lon, phone, email, total_donations, servings_donated, rating, rating_count, updated_at`

func scanSupplier(r rowScanner) (*models.Supplier, error) {
	var s models.Supplier
	err := r.Scan(&s.ID, &s.Name, &s.Loc.Lat, &s.Loc.Lon, &s.Phone, &s.Email,
		&s.TotalDonations, &s.ServingsDonated, &s.Rating, &s.RatingCount, &s.Updated)
	return &s, notFound(err)
}

func (p *PostgresStore) UpsertSupplier(ctx context.Context, s *models.Supplier) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO suppliers(id, name, lat, lon, phone, email, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name=$2, lat=$3, lon=$4, phone=$5, email=$6, updated_at=$7`,
		s.ID, s.Name, s.Loc.Lat, s.Loc.Lon, s.Phone, s.Email, s.Updated)
	return err
}

func (p *PostgresStore) GetSupplier(ctx context.Context, id string) (*models.Supplier, error) {
	return scanSupplier(p.db.QueryRowContext(ctx, `SELECT `+supplierCols+` FROM suppliers WHERE id=$1`, id))
}

const claimantCols = `id, name, lat, lon, capacity, dietary_requirements, phone, email, total_received, servings_received, updated_at`

func scanClaimant(r rowScanner) (*models.Claimant, error) {
	var c models.Claimant
	err := r.Scan(&c.ID, &c.Name, &c.Loc.Lat, &c.Loc.Lon, &c.Capacity, &c.DietaryRequirements,
		&c.Phone, &c.Email, &c.TotalReceived, &c.ServingsReceived, &c.Updated)
	return &c, notFound(err)
}

func (p *PostgresStore) UpsertClaimant(ctx context.Context, c *models.Claimant) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO claimants(id, name, lat, lon, capacity, dietary_requirements, phone, email, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET name=$2, lat=$3, lon=$4, capacity=$5, dietary_requirements=$6, phone=$7, email=$8, updated_at=$9`,
		c.ID, c.Name, c.Loc.Lat, c.Loc.Lon, c.Capacity, c.DietaryRequirements, c.Phone, c.Email, c.Updated)
	return err
}

func (p *PostgresStore) GetClaimant(ctx context.Context, id string) (*models.Claimant, error) {
	return scanClaimant(p.db.QueryRowContext(ctx, `SELECT `+claimantCols+` FROM claimants WHERE id=$1`, id))
}

const listingCols = `id, supplier_id, supplier_name, food_name, category, quantity, unit, prepared_at, expires_at,
	dietary_info, description, status, urgency, batch_index, last_escalation, lat, lon, created_at, updated_at`

func scanListing(r rowScanner) (*models.Listing, error) {
	var (
		l    models.Listing
		last sql.NullTime
	)
	err := r.Scan(&l.ID, &l.SupplierID, &l.SupplierName, &l.FoodName, &l.Category, &l.Quantity, &l.Unit,
		&l.PreparedAt, &l.ExpiresAt, &l.DietaryInfo, &l.Description, &l.Status, &l.Urgency, &l.BatchIndex,
		&last, &l.Loc.Lat, &l.Loc.Lon, &l.CreatedAt, &l.UpdatedAt)
	if last.Valid {
		l.LastEscalation = last.Time
	}
	return &l, notFound(err)
}

func (p *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO listings(`+listingCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		l.ID, l.SupplierID, l.SupplierName, l.FoodName, l.Category, l.Quantity, l.Unit,
		l.PreparedAt, l.ExpiresAt, l.DietaryInfo, l.Description, l.Status, l.Urgency, l.BatchIndex,
		nullTime(l.LastEscalation), l.Loc.Lat, l.Loc.Lon, l.CreatedAt, l.UpdatedAt)
	return err
}

func (p *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return scanListing(p.db.QueryRowContext(ctx, `SELECT `+listingCols+` FROM listings WHERE id=$1`, id))
}

func (p *PostgresStore) ListListings(ctx context.Context, status models.ListingStatus) ([]models.Listing, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+listingCols+` FROM listings
		WHERE $1 = '' OR status = $1 ORDER BY expires_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateEscalation(ctx context.Context, id string, batchIndex int, at time.Time) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var expiresAt time.Time
	if err = tx.QueryRowContext(ctx, `SELECT expires_at FROM listings WHERE id=$1 FOR UPDATE`, id).Scan(&expiresAt); err != nil {
		return notFound(err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE listings SET batch_index=$1, last_escalation=$2, urgency=$3, updated_at=$4 WHERE id=$5`,
		batchIndex, at, models.UrgencyAt(at, expiresAt), at, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ExpireListings(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE listings SET status=$1, urgency=$2, updated_at=$3
		WHERE status=$4 AND quantity > 0 AND expires_at < $3`,
		models.ListingExpired, models.UrgencyCritical, now, models.ListingAvailable)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const claimCols = `id, listing_id, claimant_id, quantity, status, notes, supplier_response, pickup_time,
	collected_at, completed_at, cancelled_at, created_at, updated_at`

func scanClaim(r rowScanner) (*models.ClaimRequest, error) {
	var c models.ClaimRequest
	err := r.Scan(&c.ID, &c.ListingID, &c.ClaimantID, &c.Quantity, &c.Status, &c.Notes, &c.SupplierResponse,
		&c.PickupTime, &c.CollectedAt, &c.CompletedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, notFound(err)
}

func (p *PostgresStore) CreateClaim(ctx context.Context, c *models.ClaimRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO claims(`+claimCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.ListingID, c.ClaimantID, c.Quantity, c.Status, c.Notes, c.SupplierResponse, c.PickupTime,
		c.CollectedAt, c.CompletedAt, c.CancelledAt, c.CreatedAt, c.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetClaim(ctx context.Context, id string) (*models.ClaimRequest, error) {
	return scanClaim(p.db.QueryRowContext(ctx, `SELECT `+claimCols+` FROM claims WHERE id=$1`, id))
}

func (p *PostgresStore) queryClaims(ctx context.Context, q string, args ...any) ([]models.ClaimRequest, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ClaimRequest
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListClaimsByListing(ctx context.Context, listingID string) ([]models.ClaimRequest, error) {
	return p.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE listing_id=$1 ORDER BY created_at, id`, listingID)
}

func (p *PostgresStore) ListOverduePickups(ctx context.Context, now time.Time) ([]models.ClaimRequest, error) {
	return p.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE status=$1 AND pickup_time < $2 ORDER BY created_at, id`,
		models.ClaimApproved, now)
}

func (p *PostgresStore) ListDonations(ctx context.Context, claimantID string) ([]models.DonationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, claim_id, listing_id, supplier_id, claimant_id, food_name, category,
		quantity, supplier_rating, claimant_feedback, donated_at
		FROM donations WHERE $1 = '' OR claimant_id = $1 ORDER BY donated_at, id`, claimantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DonationRecord
	for rows.Next() {
		var d models.DonationRecord
		if err := rows.Scan(&d.ID, &d.ClaimID, &d.ListingID, &d.SupplierID, &d.ClaimantID, &d.FoodName, &d.Category,
			&d.Quantity, &d.SupplierRating, &d.ClaimantFeedback, &d.DonatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// WithListingLock runs fn inside a transaction holding the listing row lock.
func (p *PostgresStore) WithListingLock(ctx context.Context, listingID, claimID string, fn func(u *ClaimUnit) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	l, err := scanListing(tx.QueryRowContext(ctx, `SELECT `+listingCols+` FROM listings WHERE id=$1 FOR UPDATE`, listingID))
	if err != nil {
		return err
	}
	c, err := scanClaim(tx.QueryRowContext(ctx, `SELECT `+claimCols+` FROM claims WHERE id=$1 AND listing_id=$2 FOR UPDATE`,
		claimID, listingID))
	if err != nil {
		return err
	}

	u := &ClaimUnit{Listing: l, Claim: c}
	if err = fn(u); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE listings SET quantity=$1, status=$2, urgency=$3, batch_index=$4, updated_at=$5 WHERE id=$6`,
		u.Listing.Quantity, u.Listing.Status, u.Listing.Urgency, u.Listing.BatchIndex, u.Listing.UpdatedAt, listingID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE claims SET status=$1, notes=$2, supplier_response=$3, pickup_time=$4,
		collected_at=$5, completed_at=$6, cancelled_at=$7, updated_at=$8 WHERE id=$9`,
		u.Claim.Status, u.Claim.Notes, u.Claim.SupplierResponse, u.Claim.PickupTime,
		u.Claim.CollectedAt, u.Claim.CompletedAt, u.Claim.CancelledAt, u.Claim.UpdatedAt, claimID); err != nil {
		return err
	}
	if d := u.Donation; d != nil {
		if err = insertDonation(ctx, tx, d); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertDonation(ctx context.Context, tx *sql.Tx, d *models.DonationRecord) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO donations(id, claim_id, listing_id, supplier_id, claimant_id, food_name,
		category, quantity, supplier_rating, claimant_feedback, donated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.ClaimID, d.ListingID, d.SupplierID, d.ClaimantID, d.FoodName, d.Category, d.Quantity,
		d.SupplierRating, d.ClaimantFeedback, d.DonatedAt); err != nil {
		return err
	}
	if d.SupplierRating != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE suppliers SET total_donations=total_donations+1,
			servings_donated=servings_donated+$1,
			rating=(rating*rating_count+$2)/(rating_count+1), rating_count=rating_count+1 WHERE id=$3`,
			d.Quantity, *d.SupplierRating, d.SupplierID); err != nil {
			return err
		}
	} else if _, err := tx.ExecContext(ctx, `UPDATE suppliers SET total_donations=total_donations+1,
		servings_donated=servings_donated+$1 WHERE id=$2`, d.Quantity, d.SupplierID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE claimants SET total_received=total_received+1,
		servings_received=servings_received+$1 WHERE id=$2`, d.Quantity, d.ClaimantID)
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
