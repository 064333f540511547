package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/glassquote/internal/pricing"
)

// Quote is a saved quote line together with the result it priced to.
type Quote struct {
	ID        uuid.UUID            `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Title     string               `json:"title,omitempty"`
	Notes     string               `json:"notes,omitempty"`
	Request   pricing.QuoteRequest `json:"request"`
	Result    pricing.QuoteResult  `json:"result"`
}

// QuoteSummary is one row of the quote list.
type QuoteSummary struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Title      string    `json:"title"`
	QuotePrice float64   `json:"quote_price"`
	Rejected   bool      `json:"rejected"`
}

// SaveQuote stores q, assigning an ID and creation time when they are unset.
func (s *Store) SaveQuote(ctx context.Context, q Quote) (Quote, error) {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}
	q.CreatedAt = q.CreatedAt.UTC()

	requestJSON, err := json.Marshal(q.Request)
	if err != nil {
		return Quote{}, fmt.Errorf("encode quote request: %w", err)
	}
	resultJSON, err := json.Marshal(q.Result)
	if err != nil {
		return Quote{}, fmt.Errorf("encode quote result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, created_at, title, notes, request_json, result_json, quote_price, rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.ID.String(), q.CreatedAt, nullable(q.Title), nullable(q.Notes),
		string(requestJSON), string(resultJSON), q.Result.QuotePrice, q.Result.Rejected())
	if err != nil {
		return Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	return q, nil
}

// GetQuote returns the quote with the given id.
func (s *Store) GetQuote(ctx context.Context, id uuid.UUID) (Quote, error) {
	var (
		q                       Quote
		title, notes            sql.NullString
		requestJSON, resultJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at, title, notes, request_json, result_json
		FROM quotes
		WHERE id = ?
	`, id.String()).Scan(&q.CreatedAt, &title, &notes, &requestJSON, &resultJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Quote{}, fmt.Errorf("quote %s: %w", id, ErrNotFound)
		}
		return Quote{}, fmt.Errorf("query quote: %w", err)
	}

	q.ID = id
	q.Title = title.String
	q.Notes = notes.String
	if err := json.Unmarshal([]byte(requestJSON), &q.Request); err != nil {
		return Quote{}, fmt.Errorf("decode quote request: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &q.Result); err != nil {
		return Quote{}, fmt.Errorf("decode quote result: %w", err)
	}
	return q, nil
}

// ListQuotes returns saved quotes newest first. A non-empty query filters on title and
// notes.
func (s *Store) ListQuotes(ctx context.Context, query string) ([]QuoteSummary, error) {
	query = strings.TrimSpace(query)
	search := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, COALESCE(title, ''), quote_price, rejected
		FROM quotes
		WHERE (? = '' OR COALESCE(title, '') LIKE ? OR COALESCE(notes, '') LIKE ?)
		ORDER BY created_at DESC, rowid DESC
	`, query, search, search)
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]QuoteSummary, 0)
	for rows.Next() {
		var item QuoteSummary
		var id string
		if err := rows.Scan(&id, &item.CreatedAt, &item.Title, &item.QuotePrice, &item.Rejected); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		if item.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse quote id %q: %w", id, err)
		}
		quotes = append(quotes, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return quotes, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
