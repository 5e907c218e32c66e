package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Entry struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

var ErrInvalidEmail = errors.New("invalid email format")

type IWaitlistService interface {
	AddToWaitlist(ctx context.Context, email string) (*Entry, error)
}

type waitlistService struct {
	db  *sql.DB
	now func() time.Time
}

func NewWaitlistService(db *sql.DB) IWaitlistService {
	return &waitlistService{db: db, now: time.Now}
}

// AddToWaitlist is idempotent per email: a repeated signup returns the
// entry created the first time.
func (svc *waitlistService) AddToWaitlist(ctx context.Context, email string) (*Entry, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidEmail
	}

	e := &Entry{Email: email, CreatedAt: svc.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")}
	const ins = `INSERT INTO waitlist (email, created_at) VALUES ($1, $2)
	             ON CONFLICT (email) DO NOTHING RETURNING id`
	err := svc.db.QueryRowContext(ctx, ins, e.Email, e.CreatedAt).Scan(&e.ID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Conflict: hand back the existing row.
	const sel = `SELECT id, email, created_at FROM waitlist WHERE email = $1`
	if err := svc.db.QueryRowContext(ctx, sel, email).Scan(&e.ID, &e.Email, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}
