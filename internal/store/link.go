package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/smartsavvy/internal/model"
)

type LinkStore struct {
	db *sql.DB
}

func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

func scanLink(scanner interface{ Scan(...any) error }) (*model.Link, error) {
	var l model.Link
	err := scanner.Scan(&l.ID, &l.OwnerID, &l.Slug, &l.TargetURL, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const linkCols = `id, owner_id, slug, target_url, created_at`

func (s *LinkStore) Create(id string, ownerID int64, slug, targetURL string) (*model.Link, error) {
	_, err := s.db.Exec(
		`INSERT INTO links (id, owner_id, slug, target_url) VALUES (?, ?, ?, ?)`,
		id, ownerID, slug, targetURL,
	)
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return s.GetByID(id)
}

func (s *LinkStore) GetByID(id string) (*model.Link, error) {
	row := s.db.QueryRow(`SELECT `+linkCols+` FROM links WHERE id = ?`, id)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

func (s *LinkStore) GetBySlug(slug string) (*model.Link, error) {
	row := s.db.QueryRow(`SELECT `+linkCols+` FROM links WHERE slug = ?`, slug)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link by slug: %w", err)
	}
	return l, nil
}

// ListIDsByOwner returns the ids of every link owned by ownerID, oldest first.
func (s *LinkStore) ListIDsByOwner(ownerID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM links WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan link id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Exists reports whether a link with the given id is present.
func (s *LinkStore) Exists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM links WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check link: %w", err)
	}
	return n > 0, nil
}
