package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

var (
	AdminID        = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	ClientID       = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	DeveloperID    = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	CommissionerID = uuid.MustParse("00000000-0000-0000-0000-000000000004")
)

func Admin() domain.Actor        { return domain.Actor{ID: AdminID, Role: domain.RoleAdmin} }
func Client() domain.Actor       { return domain.Actor{ID: ClientID, Role: domain.RoleClient} }
func Developer() domain.Actor    { return domain.Actor{ID: DeveloperID, Role: domain.RoleDeveloper} }
func Commissioner() domain.Actor { return domain.Actor{ID: CommissionerID, Role: domain.RoleCommissioner} }

// SeedProject inserts a project in the given status with a matching escrow
// status, wired to the fixture actors.
func SeedProject(t *testing.T, db *sql.DB, status domain.ProjectStatus, totalValue int64) *domain.Project {
	t.Helper()

	escrowStatus := domain.EscrowStatusNone
	switch status {
	case domain.ProjectStatusDepositPending:
		escrowStatus = domain.EscrowStatusDepositPending
	case domain.ProjectStatusActive, domain.ProjectStatusInDispute, domain.ProjectStatusOnHold:
		escrowStatus = domain.EscrowStatusDepositVerified
	}

	now := time.Now().UTC()
	p := &domain.Project{
		ID:             uuid.New(),
		Status:         status,
		EscrowStatus:   escrowStatus,
		ClientID:       ClientID,
		DeveloperID:    DeveloperID,
		CommissionerID: CommissionerID,
		Title:          "Test commission",
		TotalValue:     totalValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := db.Exec(
		`INSERT INTO projects (
			id, status, escrow_status, client_id, developer_id, commissioner_id,
			title, total_value, progress, ledger_frozen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, false, $9, $10)`,
		p.ID, p.Status, p.EscrowStatus, p.ClientID, p.DeveloperID, p.CommissionerID,
		p.Title, p.TotalValue, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func SeedPendingPayment(t *testing.T, db *sql.DB, projectID uuid.UUID, amount int64, reference string) *domain.Payment {
	t.Helper()

	p := &domain.Payment{
		ID:               uuid.New(),
		ProjectID:        projectID,
		Amount:           amount,
		Currency:         "USD",
		Status:           domain.PaymentStatusPendingVerification,
		PayerID:          ClientID,
		Gateway:          "mock-gateway",
		GatewayReference: reference,
		CreatedAt:        time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO payments (
			id, project_id, amount, currency, status, payer_id, gateway,
			gateway_reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.ProjectID, p.Amount, p.Currency, p.Status, p.PayerID,
		p.Gateway, p.GatewayReference, p.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func SeedMilestone(t *testing.T, db *sql.DB, projectID uuid.UUID, amount int64, status domain.MilestoneStatus) *domain.Milestone {
	t.Helper()

	m := &domain.Milestone{
		ID:        uuid.New(),
		ProjectID: projectID,
		Title:     "Deliverable",
		Amount:    amount,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	var approvedAt *time.Time
	if status == domain.MilestoneStatusApproved || status == domain.MilestoneStatusReleased {
		at := time.Now().UTC()
		approvedAt = &at
		m.ApprovedAt = approvedAt
	}

	_, err := db.Exec(
		`INSERT INTO milestones (id, project_id, title, amount, status, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ProjectID, m.Title, m.Amount, m.Status, m.ApprovedAt, m.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed milestone: %v", err)
	}
	return m
}

func SeedOpenDispute(t *testing.T, db *sql.DB, projectID uuid.UUID) *domain.Dispute {
	t.Helper()

	d := &domain.Dispute{
		ID:           uuid.New(),
		ProjectID:    projectID,
		RaisedBy:     ClientID,
		RaisedByRole: domain.RoleClient,
		Reason:       "work not delivered",
		Status:       domain.DisputeStatusOpen,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO disputes (id, project_id, raised_by, raised_by_role, reason, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $7)`,
		d.ID, d.ProjectID, d.RaisedBy, d.RaisedByRole, d.Reason, d.Status, d.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed dispute: %v", err)
	}
	return d
}

// LedgerBalance reads the latest balance_after directly, bypassing the
// repositories.
func LedgerBalance(t *testing.T, db *sql.DB, projectID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(
		`SELECT COALESCE(
			(SELECT balance_after FROM ledger_entries WHERE project_id = $1 ORDER BY seq DESC LIMIT 1),
			0
		)`, projectID,
	).Scan(&balance)
	if err != nil {
		t.Fatalf("read ledger balance: %v", err)
	}
	return balance
}

func LedgerEntryCount(t *testing.T, db *sql.DB, projectID uuid.UUID) int {
	t.Helper()

	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE project_id = $1`, projectID,
	).Scan(&count); err != nil {
		t.Fatalf("count ledger entries: %v", err)
	}
	return count
}
