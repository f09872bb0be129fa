package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("posts: not found")

	// ErrConflict marks a duplicate insert. UpsertPost swallows it
	// internally; it never escapes that call.
	ErrConflict = errors.New("posts: duplicate post")
)

// Gate is the dedup/persistence surface the orchestrator consumes. Every
// operation is transactional per call; callers catch failures per stage.
type Gate interface {
	CreateRequest(ctx context.Context, req *RequestFilters) error
	ListingsAlreadySeen(ctx context.Context, lotIDs []int64) (map[int64]struct{}, error)
	UpsertPost(ctx context.Context, post *Post) error
	PruneToKeepSet(ctx context.Context, requestID int64, keepIDs []int64) ([]Post, error)
	UpdatePost(ctx context.Context, id int64, fields PostUpdate) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	GetPostByLot(ctx context.Context, requestID, lotID int64) (*Post, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Gate {
	return &PostgresRepository{db: db}
}

const postColumns = `id, lot_id, auction, title, odometer, year, reserve_price, vin, status,
	auction_date, delivery_price, shipping_price, average_sell_price, is_posted,
	image_description, image_score, images, request_id, created_at`

func (r *PostgresRepository) CreateRequest(ctx context.Context, req *RequestFilters) error {
	query := `
		INSERT INTO request_filters (user_uuid, site, make, model, year_from, year_to,
			odo_from, odo_to, document, transmission, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		req.UserUUID, req.Site, req.Make, req.Model, req.YearFrom, req.YearTo,
		req.OdoFrom, req.OdoTo, req.Document, req.Transmission, req.Status,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create request filters: %w", err)
	}

	return nil
}

// ListingsAlreadySeen returns the subset of lotIDs that any prior request
// has already produced a Post for. Repeat suppression is global across
// requests, so this is a plain lot_id lookup.
func (r *PostgresRepository) ListingsAlreadySeen(ctx context.Context, lotIDs []int64) (map[int64]struct{}, error) {
	seen := make(map[int64]struct{})
	if len(lotIDs) == 0 {
		return seen, nil
	}

	query := `SELECT DISTINCT lot_id FROM post WHERE lot_id = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(lotIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query seen listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lotID int64
		if err := rows.Scan(&lotID); err != nil {
			return nil, fmt.Errorf("failed to scan lot id: %w", err)
		}
		seen[lotID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seen listings: %w", err)
	}

	return seen, nil
}

// UpsertPost inserts the post, or leaves the existing row untouched when a
// Post for (request_id, lot_id) is already there. The duplicate case loads
// the surviving row's id so the call is idempotent for the caller too.
func (r *PostgresRepository) UpsertPost(ctx context.Context, post *Post) error {
	query := `
		INSERT INTO post (lot_id, auction, title, odometer, year, reserve_price, vin, status,
			auction_date, delivery_price, shipping_price, average_sell_price, is_posted,
			image_description, image_score, images, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (request_id, lot_id) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		post.LotID, post.Auction, post.Title, post.Odometer, post.Year, post.ReservePrice,
		post.VIN, post.Status, post.AuctionDate, post.DeliveryPrice, post.ShippingPrice,
		post.AverageSellPrice, post.IsPosted, post.ImageDescription, post.ImageScore,
		post.Images, post.RequestID,
	).Scan(&post.ID, &post.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the row already exists, adopt it.
		existing, getErr := r.GetPostByLot(ctx, post.RequestID, post.LotID)
		if getErr != nil {
			return fmt.Errorf("failed to load existing post after conflict: %w", getErr)
		}
		post.ID = existing.ID
		post.CreatedAt = existing.CreatedAt
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to upsert post for lot %d: %w", post.LotID, err)
	}

	return nil
}

// PruneToKeepSet deletes every Post of the request whose lot id is not in
// keepIDs and returns the survivors, all within one transaction.
func (r *PostgresRepository) PruneToKeepSet(ctx context.Context, requestID int64, keepIDs []int64) ([]Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM post WHERE request_id = $1 AND NOT (lot_id = ANY($2))`
	if _, err := tx.ExecContext(ctx, deleteQuery, requestID, pq.Array(keepIDs)); err != nil {
		return nil, fmt.Errorf("failed to prune posts for request %d: %w", requestID, err)
	}

	selectQuery := `SELECT ` + postColumns + ` FROM post WHERE request_id = $1 ORDER BY id`
	rows, err := tx.QueryContext(ctx, selectQuery, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load surviving posts: %w", err)
	}
	defer rows.Close()

	var survivors []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		survivors = append(survivors, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate surviving posts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prune transaction: %w", err)
	}

	return survivors, nil
}

func (r *PostgresRepository) UpdatePost(ctx context.Context, id int64, fields PostUpdate) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if fields.AverageSellPrice != nil {
		args = append(args, *fields.AverageSellPrice)
		set = append(set, fmt.Sprintf("average_sell_price = $%d", len(args)))
	}
	if fields.ImageDescription != nil {
		args = append(args, *fields.ImageDescription)
		set = append(set, fmt.Sprintf("image_description = $%d", len(args)))
	}
	if fields.ImageScore != nil {
		args = append(args, *fields.ImageScore)
		set = append(set, fmt.Sprintf("image_score = $%d", len(args)))
	}
	if fields.IsPosted != nil {
		args = append(args, *fields.IsPosted)
		set = append(set, fmt.Sprintf("is_posted = $%d", len(args)))
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE post SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) GetPost(ctx context.Context, id int64) (*Post, error) {
	query := `SELECT ` + postColumns + ` FROM post WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetPostByLot(ctx context.Context, requestID, lotID int64) (*Post, error) {
	query := `SELECT ` + postColumns + ` FROM post WHERE request_id = $1 AND lot_id = $2`
	return r.getOne(ctx, query, requestID, lotID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...interface{}) (*Post, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*Post, error) {
	var post Post
	err := row.Scan(
		&post.ID, &post.LotID, &post.Auction, &post.Title, &post.Odometer, &post.Year,
		&post.ReservePrice, &post.VIN, &post.Status, &post.AuctionDate,
		&post.DeliveryPrice, &post.ShippingPrice, &post.AverageSellPrice, &post.IsPosted,
		&post.ImageDescription, &post.ImageScore, &post.Images, &post.RequestID, &post.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	return &post, nil
}
