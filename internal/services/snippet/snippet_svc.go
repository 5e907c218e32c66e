package snippet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Snippet struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Code      string  `json:"code"`
	Language  string  `json:"language"`
	UserID    string  `json:"userId"`
	RoomID    *string `json:"roomId"`
	CreatedAt string  `json:"createdAt"`
}

var ErrInvalidSnippet = errors.New("title, code, and language are required")

type ISnippetService interface {
	CreateSnippet(ctx context.Context, s Snippet) (*Snippet, error)
	ListSnippetsByUser(ctx context.Context, userID string) ([]Snippet, error)
}

type snippetService struct {
	db  *sql.DB
	now func() time.Time
}

func NewSnippetService(db *sql.DB) ISnippetService {
	return &snippetService{db: db, now: time.Now}
}

// CreateSnippet stores s for s.UserID; ID and CreatedAt are assigned here.
func (svc *snippetService) CreateSnippet(ctx context.Context, s Snippet) (*Snippet, error) {
	if s.Title == "" || s.Code == "" || s.Language == "" {
		return nil, ErrInvalidSnippet
	}
	s.CreatedAt = svc.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")

	const q = `INSERT INTO snippets (title, code, language, user_id, room_id, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := svc.db.QueryRowContext(ctx, q,
		s.Title, s.Code, s.Language, s.UserID, s.RoomID, s.CreatedAt).Scan(&s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (svc *snippetService) ListSnippetsByUser(ctx context.Context, userID string) ([]Snippet, error) {
	const q = `SELECT id, title, code, language, user_id, room_id, created_at
	             FROM snippets WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := svc.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Snippet, 0)
	for rows.Next() {
		var (
			s      Snippet
			roomID sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Code, &s.Language, &s.UserID, &roomID, &s.CreatedAt); err != nil {
			return nil, err
		}
		if roomID.Valid {
			s.RoomID = &roomID.String
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
