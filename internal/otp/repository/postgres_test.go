package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"company-claims/backend/internal/db"
	"company-claims/backend/internal/db/migrate"
	"company-claims/backend/internal/otp/domain"
)

// openTestDB migrates DATABASE_URL and seeds one company and claim for challenge rows to reference.
func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Skipf("Database connection failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	companyID := "co-" + uuid.NewString()
	claimID := uuid.NewString()
	now := time.Now().UTC()
	if _, err := conn.Exec(`INSERT INTO companies (id, name) VALUES ($1, 'Test Co')`, companyID); err != nil {
		t.Fatalf("insert company: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO claim_requests (id, company_id, claimant_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending_otp', $4, $4)`, claimID, companyID, "user-"+uuid.NewString(), now); err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	return conn, claimID
}

func newChallenge(claimID, hash string, now time.Time) *domain.Challenge {
	return &domain.Challenge{
		ID:             uuid.NewString(),
		ClaimRequestID: claimID,
		CodeHash:       hash,
		IssuedAt:       now,
		ExpiresAt:      now.Add(DefaultTTL),
	}
}

func TestPostgresRepository_ReplaceAndConsume(t *testing.T) {
	conn, claimID := openTestDB(t)
	repo := NewPostgresRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := newChallenge(claimID, "hash-1", now)
	if err := repo.Replace(ctx, first, now); err != nil {
		t.Fatalf("Replace first: %v", err)
	}
	second := newChallenge(claimID, "hash-2", now)
	if err := repo.Replace(ctx, second, now); err != nil {
		t.Fatalf("Replace second: %v", err)
	}

	active, err := repo.GetActive(ctx, claimID)
	if err != nil || active == nil || active.ID != second.ID {
		t.Fatalf("GetActive = %v, %v; want second", active, err)
	}
	old, err := repo.FindSupersededByHash(ctx, claimID, "hash-1")
	if err != nil || old == nil || old.ID != first.ID {
		t.Fatalf("FindSupersededByHash = %v, %v; want first", old, err)
	}

	attempts, locked, ok, err := repo.RecordFailedAttempt(ctx, second.ID, 2, now)
	if err != nil || !ok || attempts != 1 || locked {
		t.Fatalf("RecordFailedAttempt = %d, %v, %v, %v", attempts, locked, ok, err)
	}

	consumed, err := repo.Consume(ctx, second.ID, now)
	if err != nil || !consumed {
		t.Fatalf("Consume = %v, %v; want true", consumed, err)
	}
	again, err := repo.Consume(ctx, second.ID, now)
	if err != nil || again {
		t.Fatalf("second Consume = %v, %v; want false", again, err)
	}
}

func TestPostgresRepository_LockAndPurge(t *testing.T) {
	conn, claimID := openTestDB(t)
	repo := NewPostgresRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	c := newChallenge(claimID, "hash-lock", now)
	if err := repo.Replace(ctx, c, now); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, locked, _, _ := repo.RecordFailedAttempt(ctx, c.ID, 1, now); !locked {
		t.Fatal("challenge should lock at max attempts")
	}
	if _, _, ok, _ := repo.RecordFailedAttempt(ctx, c.ID, 1, now); ok {
		t.Error("locked challenge should not accept more attempts")
	}
	if ok, _ := repo.Consume(ctx, c.ID, now); ok {
		t.Error("locked challenge should not be consumable")
	}

	n, err := repo.PurgeExpiredBefore(ctx, c.ExpiresAt.Add(time.Second))
	if err != nil || n < 1 {
		t.Fatalf("PurgeExpiredBefore = %d, %v", n, err)
	}
	if got, _ := repo.GetByID(ctx, c.ID); got != nil {
		t.Error("challenge should be purged")
	}
}
