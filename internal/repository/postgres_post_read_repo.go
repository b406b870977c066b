package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// PostgresPostReadRepo はPostgreSQLを使用した閲覧記録リポジトリ。
type PostgresPostReadRepo struct {
	db *sql.DB
}

// NewPostgresPostReadRepo はPostgresPostReadRepoを生成する。
func NewPostgresPostReadRepo(db *sql.DB) *PostgresPostReadRepo {
	return &PostgresPostReadRepo{db: db}
}

// Create は閲覧記録を作成する。
func (r *PostgresPostReadRepo) Create(ctx context.Context, read *model.PostRead) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_reads (id, post_slug, client_id, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		read.ID, read.PostSlug, read.ClientID, read.UserID, read.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post read: %w", err)
	}
	return nil
}

// MergeClientToUser は指定クライアントIDの全閲覧記録をユーザーに付け替える。
// WHERE client_id = $2 を述語とする単一の一括UPDATEのため、
// 同じクライアントIDで並行実行されても2回目は0件更新となる（部分マージは起きない）。
func (r *PostgresPostReadRepo) MergeClientToUser(ctx context.Context, clientID, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE post_reads SET user_id = $1, client_id = NULL WHERE client_id = $2`,
		userID, clientID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to merge post reads: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// CountByClientID は指定クライアントIDの閲覧記録数を返す。
func (r *PostgresPostReadRepo) CountByClientID(ctx context.Context, clientID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM post_reads WHERE client_id = $1`,
		clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count post reads: %w", err)
	}
	return count, nil
}

// ListByUserID は指定ユーザーの閲覧記録一覧を作成日時の降順で返す。
func (r *PostgresPostReadRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PostRead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, post_slug, client_id, user_id, created_at
		 FROM post_reads
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list post reads: %w", err)
	}
	defer rows.Close()

	var reads []*model.PostRead
	for rows.Next() {
		read := &model.PostRead{}
		var clientID, uid sql.NullString
		if err := rows.Scan(&read.ID, &read.PostSlug, &clientID, &uid, &read.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post read: %w", err)
		}
		if clientID.Valid {
			read.ClientID = &clientID.String
		}
		if uid.Valid {
			read.UserID = &uid.String
		}
		reads = append(reads, read)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post reads: %w", err)
	}

	return reads, nil
}

// compile-time interface check
var _ PostReadRepository = (*PostgresPostReadRepo)(nil)
