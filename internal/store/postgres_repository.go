/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL for the donations table: record creation, correlation-key
 * lookups, the guarded payment/subscription transitions that make the reconciliation
 * engine safe under out-of-order delivery, and the charge-cycle materializer.
 *
 * @dependencies
 * - context, fmt, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - The monotonic guard lives inside the UPDATE statements (CASE on the current
 *   payment_status), so the read-modify-write happens server-side in a single
 *   atomic statement. Two racing webhook deliveries can interleave in any order
 *   without a lost update or a status regression.
 * - Charge-cycle de-duplication rides on the unique index over
 *   razorpay_payment_id: a replayed subscription.charged event collides on
 *   insert (SQLSTATE 23505) and the whole transaction rolls back, leaving the
 *   parent's paid_cycles untouched.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevatrust/donation-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const donationColumns = `
	id, donor_name, donor_email, donor_phone, address, pincode, pan_number, date_of_birth,
	amount, donation_type, occasion, seva_date,
	wants_80g_certificate, wants_maha_prasadam, wants_updates,
	razorpay_order_id, razorpay_payment_id, razorpay_signature, subscription_id, parent_subscription_id,
	payment_status, payment_method, payment_bank, payment_wallet, payment_vpa, payment_card_id,
	authorized_at, captured_at,
	subscription_status, subscription_plan_id, next_billing_date, total_cycle_count, paid_cycles,
	subscription_start_date, subscription_end_date,
	certificate_generated, certificate_number, prasadam_delivered, delivery_tracking_id,
	ip_address, user_agent, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner, extra ...any) (*domain.Donation, error) {
	var d domain.Donation
	var donationType, occasion, paymentStatus string
	var subscriptionStatus *string
	dest := []any{
		&d.ID, &d.DonorName, &d.DonorEmail, &d.DonorPhone, &d.Address, &d.Pincode, &d.PANNumber, &d.DateOfBirth,
		&d.Amount, &donationType, &occasion, &d.SevaDate,
		&d.Wants80GCertificate, &d.WantsMahaPrasadam, &d.WantsUpdates,
		&d.RazorpayOrderID, &d.RazorpayPaymentID, &d.RazorpaySignature, &d.SubscriptionID, &d.ParentSubscriptionID,
		&paymentStatus, &d.PaymentMethod, &d.PaymentBank, &d.PaymentWallet, &d.PaymentVPA, &d.PaymentCardID,
		&d.AuthorizedAt, &d.CapturedAt,
		&subscriptionStatus, &d.SubscriptionPlanID, &d.NextBillingDate, &d.TotalCycleCount, &d.PaidCycles,
		&d.SubscriptionStartDate, &d.SubscriptionEndDate,
		&d.CertificateGenerated, &d.CertificateNumber, &d.PrasadamDelivered, &d.DeliveryTrackingID,
		&d.IPAddress, &d.UserAgent, &d.CreatedAt, &d.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d.DonationType = domain.DonationType(donationType)
	d.Occasion = domain.Occasion(occasion)
	d.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if subscriptionStatus != nil {
		s := domain.SubscriptionStatus(*subscriptionStatus)
		d.SubscriptionStatus = &s
	}
	return &d, nil
}

func subscriptionStatusText(s *domain.SubscriptionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// CreateDonation inserts a new donation record. The caller assigns the id.
func (r *PostgresRepository) CreateDonation(ctx context.Context, d *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, donor_name, donor_email, donor_phone, address, pincode, pan_number, date_of_birth,
			amount, donation_type, occasion, seva_date,
			wants_80g_certificate, wants_maha_prasadam, wants_updates,
			razorpay_order_id, razorpay_payment_id, razorpay_signature, subscription_id, parent_subscription_id,
			payment_status, payment_method, payment_bank, payment_wallet, payment_vpa, payment_card_id,
			authorized_at, captured_at,
			subscription_status, subscription_plan_id, next_billing_date, total_cycle_count, paid_cycles,
			subscription_start_date, subscription_end_date,
			ip_address, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26,
			$27, $28,
			$29, $30, $31, $32, $33,
			$34, $35,
			$36, $37
		)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		d.ID, d.DonorName, d.DonorEmail, d.DonorPhone, d.Address, d.Pincode, d.PANNumber, d.DateOfBirth,
		d.Amount, string(d.DonationType), string(d.Occasion), d.SevaDate,
		d.Wants80GCertificate, d.WantsMahaPrasadam, d.WantsUpdates,
		d.RazorpayOrderID, d.RazorpayPaymentID, d.RazorpaySignature, d.SubscriptionID, d.ParentSubscriptionID,
		string(d.PaymentStatus), d.PaymentMethod, d.PaymentBank, d.PaymentWallet, d.PaymentVPA, d.PaymentCardID,
		d.AuthorizedAt, d.CapturedAt,
		subscriptionStatusText(d.SubscriptionStatus), d.SubscriptionPlanID, d.NextBillingDate, d.TotalCycleCount, d.PaidCycles,
		d.SubscriptionStartDate, d.SubscriptionEndDate,
		d.IPAddress, d.UserAgent,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

// FindDonationByID retrieves a donation record by its primary key.
func (r *PostgresRepository) FindDonationByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations WHERE id = $1`
	d, err := scanDonation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

// FindDonationByOrderID retrieves the unique record for a gateway order id.
func (r *PostgresRepository) FindDonationByOrderID(ctx context.Context, orderID string) (*domain.Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations WHERE razorpay_order_id = $1`
	d, err := scanDonation(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

// FindParentBySubscriptionID retrieves the unique parent record for a gateway
// subscription id. Charge-cycle records never match: they carry only
// parent_subscription_id.
func (r *PostgresRepository) FindParentBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations
		WHERE subscription_id = $1 AND parent_subscription_id IS NULL`
	d, err := scanDonation(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return d, nil
}

// ApplyPaymentTransition executes one guarded payment-state update as a single
// atomic statement. Detail fields merge unconditionally via COALESCE; the
// status and its timestamp move only when the current status is in AllowedFrom.
// The prior status rides back on the RETURNING clause so callers can tell a
// real transition from a replay that only merged details.
func (r *PostgresRepository) ApplyPaymentTransition(ctx context.Context, t PaymentTransition) (*domain.Donation, bool, error) {
	keyColumn := "razorpay_order_id"
	if t.Key == ByPaymentID {
		keyColumn = "razorpay_payment_id"
	}

	allowedFrom := make([]string, 0, len(t.AllowedFrom))
	for _, s := range t.AllowedFrom {
		allowedFrom = append(allowedFrom, string(s))
	}

	query := fmt.Sprintf(`
		UPDATE donations SET
			razorpay_payment_id = COALESCE($2, razorpay_payment_id),
			razorpay_signature  = COALESCE($3, razorpay_signature),
			payment_method      = COALESCE($4, payment_method),
			payment_bank        = COALESCE($5, payment_bank),
			payment_wallet      = COALESCE($6, payment_wallet),
			payment_vpa         = COALESCE($7, payment_vpa),
			payment_card_id     = COALESCE($8, payment_card_id),
			authorized_at       = CASE WHEN donations.payment_status = ANY($9::text[]) THEN COALESCE($10, authorized_at) ELSE authorized_at END,
			captured_at         = CASE WHEN donations.payment_status = ANY($9::text[]) THEN COALESCE($11, captured_at) ELSE captured_at END,
			payment_status      = CASE WHEN donations.payment_status = ANY($9::text[]) THEN $12 ELSE donations.payment_status END,
			updated_at          = NOW()
		FROM (
			SELECT id AS prior_id, payment_status AS prior_status
			FROM donations
			WHERE %s = $1
			FOR UPDATE
		) prior
		WHERE donations.id = prior.prior_id
		RETURNING`+donationColumns+`, prior_status`, keyColumn)

	var priorStatus string
	d, err := scanDonation(r.db.QueryRow(ctx, query,
		t.KeyValue,
		t.PaymentID, t.Signature, t.Method, t.Bank, t.Wallet, t.VPA, t.CardID,
		allowedFrom, t.AuthorizedAt, t.CapturedAt, string(t.NewStatus),
	), &priorStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrDonationNotFound
		}
		return nil, false, fmt.Errorf("apply payment transition: %w", err)
	}
	return d, string(d.PaymentStatus) != priorStatus, nil
}

// ApplySubscriptionTransition executes one guarded subscription-state update
// on the parent record. Terminal records (cancelled, completed) are left
// untouched and reported via ErrSubscriptionTerminal so callers can decide
// whether that is an error (manual resume) or a benign replay (webhook).
func (r *PostgresRepository) ApplySubscriptionTransition(ctx context.Context, t SubscriptionTransition) (*domain.Donation, error) {
	query := `
		UPDATE donations SET
			subscription_status     = $2,
			subscription_start_date = COALESCE($3, subscription_start_date),
			subscription_end_date   = COALESCE($4, subscription_end_date),
			paid_cycles             = GREATEST(paid_cycles, $5),
			updated_at              = NOW()
		WHERE subscription_id = $1
		  AND parent_subscription_id IS NULL
		  AND subscription_status NOT IN ('cancelled', 'completed')
		RETURNING` + donationColumns

	d, err := scanDonation(r.db.QueryRow(ctx, query,
		t.SubscriptionID, string(t.NewStatus), t.StartDate, t.EndDate, t.RaisePaidCyclesTo,
	))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("apply subscription transition: %w", err)
	}

	// No row moved: distinguish a missing parent from a terminal one.
	if _, findErr := r.FindParentBySubscriptionID(ctx, t.SubscriptionID); findErr != nil {
		return nil, findErr
	}
	return nil, ErrSubscriptionTerminal
}

// MaterializeCharge inserts the charge-cycle record and advances the parent's
// counters inside one transaction, so a crash between the two steps cannot
// leave a cycle record without its increment.
func (r *PostgresRepository) MaterializeCharge(ctx context.Context, cycle *domain.Donation, nextBillingDate time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin charge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO donations (
			id, donor_name, donor_email, donor_phone, address, pincode, pan_number,
			amount, donation_type, occasion,
			wants_80g_certificate, wants_maha_prasadam, wants_updates,
			razorpay_payment_id, parent_subscription_id,
			payment_status, payment_method, captured_at, paid_cycles
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15,
			$16, $17, $18, $19
		)
	`
	_, err = tx.Exec(ctx, insert,
		cycle.ID, cycle.DonorName, cycle.DonorEmail, cycle.DonorPhone, cycle.Address, cycle.Pincode, cycle.PANNumber,
		cycle.Amount, string(cycle.DonationType), string(cycle.Occasion),
		cycle.Wants80GCertificate, cycle.WantsMahaPrasadam, cycle.WantsUpdates,
		cycle.RazorpayPaymentID, cycle.ParentSubscriptionID,
		string(cycle.PaymentStatus), cycle.PaymentMethod, cycle.CapturedAt, cycle.PaidCycles,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCharge
		}
		return fmt.Errorf("insert charge-cycle record: %w", err)
	}

	update := `
		UPDATE donations SET
			paid_cycles       = paid_cycles + 1,
			next_billing_date = $2,
			updated_at        = NOW()
		WHERE subscription_id = $1 AND parent_subscription_id IS NULL
	`
	result, err := tx.Exec(ctx, update, *cycle.ParentSubscriptionID, nextBillingDate)
	if err != nil {
		return fmt.Errorf("increment parent paid_cycles: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit charge transaction: %w", err)
	}
	return nil
}

// GetDonationStats aggregates over captured donations.
func (r *PostgresRepository) GetDonationStats(ctx context.Context) (*domain.DonationStats, error) {
	var stats domain.DonationStats
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(AVG(amount), 0)
		FROM donations
		WHERE payment_status = 'captured'
	`
	if err := r.db.QueryRow(ctx, query).Scan(&stats.TotalDonations, &stats.TotalAmount, &stats.AvgDonation); err != nil {
		return nil, fmt.Errorf("aggregate donation stats: %w", err)
	}
	stats.TotalMeals = stats.TotalAmount / domain.MealCostRupees
	return &stats, nil
}
