package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/smartsavvy/internal/model"
)

type SubscriberStore struct {
	db *sql.DB
}

func NewSubscriberStore(db *sql.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func scanSubscriber(scanner interface{ Scan(...any) error }) (*model.Subscriber, error) {
	var s model.Subscriber
	var pkg sql.NullString
	var status, courses string
	err := scanner.Scan(
		&s.ID, &s.Email, &pkg, &status, &courses,
		&s.LastEvent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pkg.Valid {
		p := model.Package(pkg.String)
		s.Package = &p
	}
	s.Status = model.Status(status)
	s.Courses = splitCourses(courses)
	return &s, nil
}

const subscriberCols = `id, email, package, status, courses, last_event, created_at, updated_at`

// GetOrCreate returns the subscriber for email, inserting a row in state
// none when it does not exist yet. Concurrent first deliveries for the same
// email resolve to the same row.
func (s *SubscriberStore) GetOrCreate(email string) (*model.Subscriber, error) {
	email = normalizeEmail(email)
	_, err := s.db.Exec(
		`INSERT INTO subscribers (email) VALUES (?) ON CONFLICT(email) DO NOTHING`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}
	sub, err := s.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscriber %s vanished after insert", email)
	}
	return sub, nil
}

func (s *SubscriberStore) GetByID(id int64) (*model.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberCols+` FROM subscribers WHERE id = ?`, id)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

func (s *SubscriberStore) GetByEmail(email string) (*model.Subscriber, error) {
	row := s.db.QueryRow(`SELECT `+subscriberCols+` FROM subscribers WHERE email = ?`, normalizeEmail(email))
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by email: %w", err)
	}
	return sub, nil
}

// Save writes the mutable subscription fields of sub. Last write wins.
func (s *SubscriberStore) Save(sub *model.Subscriber) error {
	var pkg sql.NullString
	if sub.Package != nil {
		pkg = sql.NullString{String: string(*sub.Package), Valid: true}
	}
	result, err := s.db.Exec(
		`UPDATE subscribers
		 SET package = ?, status = ?, courses = ?, last_event = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		pkg, string(sub.Status), joinCourses(sub.Courses), sub.LastEvent, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update subscriber %d: no such row", sub.ID)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func splitCourses(s string) []string {
	var result []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			result = append(result, c)
		}
	}
	return result
}

func joinCourses(courses []string) string {
	return strings.Join(courses, ",")
}
