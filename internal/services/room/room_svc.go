package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codecollab/internal/redis/redis_functions"
)

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Room struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Language          string        `json:"language"`
	Code              string        `json:"code"`
	CreatedByID       string        `json:"createdById"`
	CreatedByUsername string        `json:"createdByUsername"`
	CreatedAt         string        `json:"createdAt" example:"2025-07-27T16:05:05.000Z"`
	Participants      []Participant `json:"participants,omitempty"`
}

// RoomCode is the durable document of a room. Rev orders writes; zero means
// the value came from SQL and carries no revision.
type RoomCode struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Rev      int64  `json:"-"`
}

type Message struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	RoomID     string `json:"roomId"`
	Timestamp  string `json:"timestamp" example:"2025-07-27T16:05:05.000Z"`
}

const (
	RedisRoomKeyPrefix = "room:"
	RedisDirtySet      = "rooms:dirty"

	// ISO-8601 with millisecond precision; lexical order equals time order.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidRoom  = errors.New("name and language are required")
	ErrEmptyMessage = errors.New("message content is required")
)

type IRoomService interface {
	CreateRoom(ctx context.Context, name, language, creatorID, creatorName string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	UpdateRoomCode(ctx context.Context, id, code, language string) (*Room, error)

	GetRoomCode(ctx context.Context, id string) (*RoomCode, error)
	SetRoomCode(ctx context.Context, id, code, language string, rev int64) error

	AppendMessage(ctx context.Context, roomID, content, senderID, senderName string) (*Message, error)
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
}

type roomService struct {
	rdc   *redis.Client
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

var _ IRoomService = (*roomService)(nil)

func NewRoomService(rdc *redis.Client, db *sql.DB) IRoomService {
	// 16 hex chars, same shape as the ids handed out before.
	gen, err := nanoid.CustomASCII("0123456789abcdef", 16)
	if err != nil {
		panic(err)
	}
	return &roomService{
		rdc:   rdc,
		db:    db,
		now:   time.Now,
		newID: gen,
	}
}

func (svc *roomService) timestamp() string {
	return svc.now().UTC().Format(TimestampLayout)
}

func (svc *roomService) CreateRoom(ctx context.Context, name, language, creatorID, creatorName string) (*Room, error) {
	if name == "" || language == "" {
		return nil, ErrInvalidRoom
	}
	r := &Room{
		ID:                svc.newID(),
		Name:              name,
		Language:          language,
		CreatedByID:       creatorID,
		CreatedByUsername: creatorName,
		CreatedAt:         svc.timestamp(),
		Participants:      []Participant{},
	}
	const q = `INSERT INTO rooms (id, name, language, code, created_by_id, created_by_username, created_at)
	           VALUES ($1, $2, $3, '', $4, $5, $6)`
	if _, err := svc.db.ExecContext(ctx, q,
		r.ID, r.Name, r.Language, r.CreatedByID, r.CreatedByUsername, r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (svc *roomService) ListRooms(ctx context.Context) ([]Room, error) {
	const q = `SELECT id, name, language, code, created_by_id, created_by_username, created_at
	             FROM rooms ORDER BY created_at DESC`
	rows, err := svc.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Language, &r.Code,
			&r.CreatedByID, &r.CreatedByUsername, &r.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// GetRoom returns the room with its participants: the creator first, then
// everyone who has posted in the room's chat.
func (svc *roomService) GetRoom(ctx context.Context, id string) (*Room, error) {
	const q = `SELECT id, name, language, code, created_by_id, created_by_username, created_at
	             FROM rooms WHERE id = $1`
	r := &Room{}
	err := svc.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.Name, &r.Language, &r.Code,
		&r.CreatedByID, &r.CreatedByUsername, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	const pq = `SELECT DISTINCT sender_id, sender_name FROM messages
	             WHERE room_id = $1 ORDER BY sender_id`
	rows, err := svc.db.QueryContext(ctx, pq, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r.Participants = []Participant{{ID: r.CreatedByID, Username: r.CreatedByUsername}}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Username); err != nil {
			return nil, err
		}
		if p.ID != r.CreatedByID {
			r.Participants = append(r.Participants, p)
		}
	}
	return r, rows.Err()
}

// UpdateRoomCode is the REST write path. SQL is updated directly and the hot
// hash gets a fresh revision so the next flush cannot resurrect older code.
func (svc *roomService) UpdateRoomCode(ctx context.Context, id, code, language string) (*Room, error) {
	res, err := svc.db.ExecContext(ctx,
		`UPDATE rooms SET code = $2, language = $3 WHERE id = $1`, id, code, language)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoomNotFound
	}
	if err := svc.SetRoomCode(ctx, id, code, language, svc.now().UnixMicro()); err != nil {
		zap.L().Warn("room.hot_write_failed", zap.String("room", id), zap.Error(err))
	}
	return svc.GetRoom(ctx, id)
}

// GetRoomCode serves from the Redis hash when present, otherwise from SQL.
func (svc *roomService) GetRoomCode(ctx context.Context, id string) (*RoomCode, error) {
	snap, err := svc.rdc.HGetAll(ctx, RedisRoomKeyPrefix+id).Result()
	if err != nil {
		zap.L().Warn("room.hot_read_failed", zap.String("room", id), zap.Error(err))
	}
	if len(snap) != 0 {
		rev, _ := strconv.ParseInt(snap["rev"], 10, 64)
		return &RoomCode{Code: snap["code"], Language: snap["lang"], Rev: rev}, nil
	}

	rc := &RoomCode{}
	err = svc.db.QueryRowContext(ctx,
		`SELECT code, language FROM rooms WHERE id = $1`, id).Scan(&rc.Code, &rc.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// SetRoomCode writes through the room_code_set function, which drops the
// write when a newer revision is already stored.
func (svc *roomService) SetRoomCode(ctx context.Context, id, code, language string, rev int64) error {
	applied, err := svc.rdc.FCall(ctx, redis_functions.RoomCodeSet,
		[]string{RedisRoomKeyPrefix + id, RedisDirtySet},
		code, language, rev,
	).Int()
	if err != nil {
		return fmt.Errorf("room %s: set code: %w", id, err)
	}
	if applied == 0 {
		zap.L().Debug("room.stale_write_skipped", zap.String("room", id), zap.Int64("rev", rev))
	}
	return nil
}

func (svc *roomService) AppendMessage(ctx context.Context, roomID, content, senderID, senderName string) (*Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	m := &Message{
		Content:    content,
		SenderID:   senderID,
		SenderName: senderName,
		RoomID:     roomID,
		Timestamp:  svc.timestamp(),
	}
	const q = `INSERT INTO messages (content, sender_id, sender_name, room_id, timestamp)
	           VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := svc.db.QueryRowContext(ctx, q,
		m.Content, m.SenderID, m.SenderName, m.RoomID, m.Timestamp).Scan(&m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (svc *roomService) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	const q = `SELECT id, content, sender_id, sender_name, room_id, timestamp
	             FROM messages WHERE room_id = $1 ORDER BY timestamp ASC, id ASC`
	rows, err := svc.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderName, &m.RoomID, &m.Timestamp); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
