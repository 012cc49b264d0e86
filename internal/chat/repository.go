package chat

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const foreignKeyViolation = "23503"

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DBTX
}

func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const messageColumns = `id, sender_id, receiver_id, text, image, seen, deleted_by, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Text,
		&m.Image,
		&m.Seen,
		&m.DeletedBy,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []int64{}
	}
	return &m, nil
}

// storeErr maps driver errors onto the package taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", op, err)
}

func (r *Repository) Create(ctx context.Context, senderID, receiverID int64, text, image *string) (*Message, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, text, image)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRow(ctx, query, senderID, receiverID, text, image))
	if err != nil {
		return nil, storeErr("create message", err)
	}
	return m, nil
}

func (r *Repository) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.QueryRow(ctx, query, messageID))
	if err != nil {
		return nil, storeErr("get message", err)
	}
	return m, nil
}

// ListConversation returns the messages between viewer and counterpart that
// viewer has not soft-deleted, oldest first.
func (r *Repository) ListConversation(ctx context.Context, viewer, counterpart int64) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND NOT ($1 = ANY(deleted_by))
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, viewer, counterpart)
	if err != nil {
		return nil, storeErr("list conversation", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr("scan message", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list conversation", err)
	}
	return messages, nil
}

func (r *Repository) CountUnseen(ctx context.Context, viewer, counterpart int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE sender_id = $2
		  AND receiver_id = $1
		  AND seen = FALSE
		  AND NOT ($1 = ANY(deleted_by))`

	var count int
	if err := r.db.QueryRow(ctx, query, viewer, counterpart).Scan(&count); err != nil {
		return 0, storeErr("count unseen", err)
	}
	return count, nil
}

// MarkSeen sets the seen flag. Marking a seen message again is a no-op that
// still returns the message.
func (r *Repository) MarkSeen(ctx context.Context, messageID int64) (*Message, error) {
	query := `
		UPDATE messages
		SET seen = TRUE
		WHERE id = $1
		RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRow(ctx, query, messageID))
	if err != nil {
		return nil, storeErr("mark seen", err)
	}
	return m, nil
}

// SoftDeleteConversation appends viewer to deleted_by on every message of the
// pair that does not already carry it.
func (r *Repository) SoftDeleteConversation(ctx context.Context, viewer, counterpart int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET deleted_by = array_append(deleted_by, $1)
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND NOT ($1 = ANY(deleted_by))
	`, viewer, counterpart)
	if err != nil {
		return 0, storeErr("soft delete conversation", err)
	}
	return tag.RowsAffected(), nil
}

// ListCounterparts returns every other user with UnseenCounter(viewer, user).
func (r *Repository) ListCounterparts(ctx context.Context, viewer int64) ([]UserSummary, error) {
	query := `
		SELECT u.id, u.username, u.full_name, u.profile_pic, COALESCE(uc.unseen_count, 0)
		FROM users u
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unseen_count
			FROM messages m
			WHERE m.sender_id = u.id
			  AND m.receiver_id = $1
			  AND m.seen = FALSE
			  AND NOT ($1 = ANY(m.deleted_by))
		) uc ON TRUE
		WHERE u.id <> $1
		ORDER BY u.full_name ASC, u.id ASC`

	rows, err := r.db.Query(ctx, query, viewer)
	if err != nil {
		return nil, storeErr("list counterparts", err)
	}
	defer rows.Close()

	users := make([]UserSummary, 0)
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.ProfilePic, &u.UnseenCount); err != nil {
			return nil, storeErr("scan counterpart", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list counterparts", err)
	}
	return users, nil
}
