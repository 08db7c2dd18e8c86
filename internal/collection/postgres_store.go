package collection

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is implemented by *pgxpool.Pool and can be mocked for testing.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore serializes item mutations per collection by locking the
// collection row for the duration of the transaction.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const collectionColumns = `id, kind, name, description, owner_id, is_public,
       COALESCE(share_code, ''), cover_url, created_at, updated_at`

func scanCollection(row pgx.Row) (*Collection, error) {
	var c Collection
	var kind, shareCode string
	if err := row.Scan(
		&c.ID,
		&kind,
		&c.Name,
		&c.Description,
		&c.OwnerID,
		&c.IsPublic,
		&shareCode,
		&c.CoverURL,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Kind = Kind(kind)
	if shareCode != "" {
		c.ShareCode = &shareCode
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockCollection takes the per-collection row lock inside tx.
func lockCollection(ctx context.Context, tx pgx.Tx, id string) error {
	var locked string
	err := tx.QueryRow(ctx, `SELECT id FROM collections WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return errCollectionNotFound
	}
	return err
}

func touchCollection(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE collections SET updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) CreateCollection(ctx context.Context, c *Collection) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO collections (id, kind, name, description, owner_id, is_public)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, c.ID, string(c.Kind), c.Name, c.Description, c.OwnerID, c.IsPublic).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return errDuplicateCollection
	}
	return err
}

func (s *PostgresStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(ctx, `
		SELECT `+collectionColumns+`
		FROM collections
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCollectionNotFound
	}
	return c, err
}

func (s *PostgresStore) ListVisible(ctx context.Context, userID string, limit int) ([]Collection, error) {
	// The join is on a single user, so each collection appears at most once.
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.kind, c.name, c.description, c.owner_id, c.is_public,
		       COALESCE(c.share_code, ''), c.cover_url, c.created_at, c.updated_at
		FROM collections c
		LEFT JOIN collaborators cb ON cb.collection_id = c.id AND cb.user_id = $1
		WHERE c.is_public = TRUE
		   OR ($1 <> '' AND c.owner_id = $1)
		   OR ($1 <> '' AND cb.user_id IS NOT NULL)
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCollection(ctx context.Context, c *Collection) error {
	err := s.db.QueryRow(ctx, `
		UPDATE collections
		SET name = $2,
		    description = $3,
		    is_public = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, c.ID, c.Name, c.Description, c.IsPublic).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errCollectionNotFound
	}
	return err
}

// DeleteCollection relies on ON DELETE CASCADE for items and collaborators;
// the share code lives on the row itself.
func (s *PostgresStore) DeleteCollection(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errCollectionNotFound
	}
	return nil
}

func (s *PostgresStore) SetCover(ctx context.Context, id, url string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(ctx, `
		UPDATE collections
		SET cover_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+collectionColumns, id, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCollectionNotFound
	}
	return c, err
}

func (s *PostgresStore) ListItems(ctx context.Context, collectionID string) ([]Item, error) {
	return listItems(ctx, s.db, collectionID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q querier, collectionID string) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, collection_id, external_ref, position, added_by, added_at
		FROM items
		WHERE collection_id = $1
		ORDER BY position ASC
	`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID,
			&it.CollectionID,
			&it.ExternalRef,
			&it.Position,
			&it.AddedBy,
			&it.AddedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertItem(ctx context.Context, it *Item, position, maxItems int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, it.CollectionID); err != nil {
		return err
	}

	var total int
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(BOOL_OR(external_ref = $2), FALSE)
		FROM items
		WHERE collection_id = $1
	`, it.CollectionID, it.ExternalRef).Scan(&total, &exists); err != nil {
		return err
	}
	if exists {
		return errDuplicateItem
	}
	if maxItems > 0 && total >= maxItems {
		return errCollectionFull
	}
	if position < 0 || position > total {
		position = total
	}

	if position < total {
		if _, err := tx.Exec(ctx, `
			UPDATE items
			SET position = position + 1
			WHERE collection_id = $1 AND position >= $2
		`, it.CollectionID, position); err != nil {
			return err
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO items (id, collection_id, external_ref, position, added_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING added_at
	`, it.ID, it.CollectionID, it.ExternalRef, position, it.AddedBy).Scan(&it.AddedAt)
	if isUniqueViolation(err) {
		return errDuplicateItem
	}
	if err != nil {
		return err
	}

	if err := touchCollection(ctx, tx, it.CollectionID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	it.Position = position
	return nil
}

func (s *PostgresStore) MoveItem(ctx context.Context, collectionID, ref string, newPosition int) (int, int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, collectionID); err != nil {
		return 0, 0, err
	}

	var from, total int
	err = tx.QueryRow(ctx, `
		SELECT position, (SELECT COUNT(*) FROM items WHERE collection_id = $1)
		FROM items
		WHERE collection_id = $1 AND external_ref = $2
	`, collectionID, ref).Scan(&from, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, errItemNotFound
	}
	if err != nil {
		return 0, 0, err
	}

	to := clamp(newPosition, 0, total-1)
	if to == from {
		return from, to, tx.Commit(ctx)
	}

	if to > from {
		_, err = tx.Exec(ctx, `
			UPDATE items
			SET position = position - 1
			WHERE collection_id = $1
			  AND position > $2
			  AND position <= $3
		`, collectionID, from, to)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE items
			SET position = position + 1
			WHERE collection_id = $1
			  AND position >= $3
			  AND position < $2
		`, collectionID, from, to)
	}
	if err != nil {
		return 0, 0, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE items
		SET position = $3
		WHERE collection_id = $1 AND external_ref = $2
	`, collectionID, ref, to); err != nil {
		return 0, 0, err
	}

	if err := touchCollection(ctx, tx, collectionID); err != nil {
		return 0, 0, err
	}
	return from, to, tx.Commit(ctx)
}

func (s *PostgresStore) RemoveItem(ctx context.Context, collectionID, ref string) (*Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, collectionID); err != nil {
		return nil, err
	}

	var it Item
	err = tx.QueryRow(ctx, `
		DELETE FROM items
		WHERE collection_id = $1 AND external_ref = $2
		RETURNING id, collection_id, external_ref, position, added_by, added_at
	`, collectionID, ref).Scan(
		&it.ID,
		&it.CollectionID,
		&it.ExternalRef,
		&it.Position,
		&it.AddedBy,
		&it.AddedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errItemNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE items
		SET position = position - 1
		WHERE collection_id = $1 AND position > $2
	`, collectionID, it.Position); err != nil {
		return nil, err
	}

	if err := touchCollection(ctx, tx, collectionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) ReorderItems(ctx context.Context, collectionID string, refs []string) ([]Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, collectionID); err != nil {
		return nil, err
	}

	current, err := listItems(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	currentRefs := make([]string, len(current))
	for i, it := range current {
		currentRefs[i] = it.ExternalRef
	}
	if err := validatePermutation(currentRefs, refs); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE items
		SET position = v.ord - 1
		FROM unnest($2::text[]) WITH ORDINALITY AS v(ref, ord)
		WHERE items.collection_id = $1 AND items.external_ref = v.ref
	`, collectionID, refs); err != nil {
		return nil, err
	}

	if err := touchCollection(ctx, tx, collectionID); err != nil {
		return nil, err
	}

	items, err := listItems(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) GetCollaborator(ctx context.Context, collectionID, userID string) (*Collaborator, error) {
	var c Collaborator
	err := s.db.QueryRow(ctx, `
		SELECT collection_id, user_id, can_edit, added_at
		FROM collaborators
		WHERE collection_id = $1 AND user_id = $2
	`, collectionID, userID).Scan(&c.CollectionID, &c.UserID, &c.CanEdit, &c.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCollaboratorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, collectionID string) ([]Collaborator, error) {
	rows, err := s.db.Query(ctx, `
		SELECT collection_id, user_id, can_edit, added_at
		FROM collaborators
		WHERE collection_id = $1
		ORDER BY added_at ASC, user_id
	`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Collaborator{}
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.CollectionID, &c.UserID, &c.CanEdit, &c.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertCollaborator(ctx context.Context, c *Collaborator, maxCollaborators int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, c.CollectionID); err != nil {
		return err
	}

	var total int
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(BOOL_OR(user_id = $2), FALSE)
		FROM collaborators
		WHERE collection_id = $1
	`, c.CollectionID, c.UserID).Scan(&total, &exists); err != nil {
		return err
	}
	if !exists && maxCollaborators > 0 && total >= maxCollaborators {
		return errTooManyCollabs
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO collaborators (collection_id, user_id, can_edit)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection_id, user_id) DO UPDATE SET can_edit = EXCLUDED.can_edit
		RETURNING added_at
	`, c.CollectionID, c.UserID, c.CanEdit).Scan(&c.AddedAt); err != nil {
		return err
	}

	if err := touchCollection(ctx, tx, c.CollectionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, collectionID, userID string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := lockCollection(ctx, tx, collectionID); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM collaborators
		WHERE collection_id = $1 AND user_id = $2
	`, collectionID, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if err := touchCollection(ctx, tx, collectionID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) SetShareCode(ctx context.Context, collectionID, code string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE collections
		SET share_code = $2, share_created_at = now(), updated_at = now()
		WHERE id = $1
	`, collectionID, code)
	if isUniqueViolation(err) {
		return errShareCodeTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errCollectionNotFound
	}
	return nil
}

func (s *PostgresStore) ClearShareCode(ctx context.Context, collectionID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE collections
		SET share_code = NULL, share_created_at = NULL, updated_at = now()
		WHERE id = $1
	`, collectionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errCollectionNotFound
	}
	return nil
}

func (s *PostgresStore) FindByShareCode(ctx context.Context, code string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(ctx, `
		SELECT `+collectionColumns+`
		FROM collections
		WHERE share_code = $1
	`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errShareNotFound
	}
	return c, err
}
