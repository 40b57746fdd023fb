package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stockrefresh/internal/model"
)

// upsertChunkSize caps one upsert statement; each chunk commits
// independently, so a mid-run failure leaves earlier chunks persisted.
const upsertChunkSize = 100

// selectCap bounds any screener select regardless of caller limit.
const selectCap = 1000

// Store is the keyed-upsert storage collaborator backed by Postgres.
// It never classifies freshness; that belongs to the screener gate.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

// Open dials Postgres and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

var stockColumns = []string{
	"symbol", "name", "price", "open", "high", "low", "close",
	"volume", "change_percent", "market_cap", "shares_float",
	"relative_volume", "raw", "updated_at",
}

// UpsertStocks writes quotes keyed by symbol in chunks of 100. Rows with
// a nil price are skipped defensively; callers should have dropped them
// already.
func (s *Store) UpsertStocks(ctx context.Context, rows []model.Quote) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for start := 0; start < len(rows); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertChunk(ctx, rows[start:end], now); err != nil {
			return errors.Wrapf(err, "upsert chunk at %d", start)
		}
	}
	return nil
}

func (s *Store) upsertChunk(ctx context.Context, rows []model.Quote, now time.Time) error {
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(stockColumns))
	i := 1
	for _, q := range rows {
		if q.Price == nil {
			continue
		}
		ph := make([]string, 0, len(stockColumns))
		for range stockColumns {
			ph = append(ph, fmt.Sprintf("$%d", i))
			i++
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")

		var raw []byte
		if len(q.Raw) > 0 {
			b, err := json.Marshal(q.Raw)
			if err != nil {
				return errors.Wrapf(err, "marshal raw for %s", q.Symbol)
			}
			raw = b
		}
		updatedAt := q.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		args = append(args,
			q.Symbol, q.Name, q.Price, q.Open, q.High, q.Low, q.Close,
			q.Volume, q.ChangePercent, q.MarketCap, q.SharesFloat,
			q.RelativeVolume, raw, updatedAt,
		)
	}
	if len(values) == 0 {
		return nil
	}

	var sets []string
	for _, col := range stockColumns[1:] {
		sets = append(sets, fmt.Sprintf("%q = EXCLUDED.%q", col, col))
	}
	query := fmt.Sprintf(
		`INSERT INTO stocks (%s) VALUES %s ON CONFLICT (symbol) DO UPDATE SET %s`,
		quoteJoin(stockColumns), strings.Join(values, ", "), strings.Join(sets, ", "),
	)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// SelectStocks returns cached rows matching the server-side filters.
// Rows without a price are never returned. The result is capped at 1000.
func (s *Store) SelectStocks(ctx context.Context, f model.Filters, limit int) ([]model.Quote, error) {
	if limit <= 0 || limit > selectCap {
		limit = selectCap
	}
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conds = append(conds, "price IS NOT NULL")
	if f.PriceMin != nil {
		conds = append(conds, "price >= "+arg(*f.PriceMin))
	}
	if f.PriceMax != nil {
		conds = append(conds, "price <= "+arg(*f.PriceMax))
	}
	if f.VolumeMin != nil {
		conds = append(conds, "volume >= "+arg(*f.VolumeMin))
	}
	if f.MarketCapMin != nil {
		conds = append(conds, "market_cap >= "+arg(*f.MarketCapMin))
	}
	if f.MarketCapMax != nil {
		conds = append(conds, "market_cap <= "+arg(*f.MarketCapMax))
	}
	if f.FloatMax != nil {
		conds = append(conds, "shares_float <= "+arg(*f.FloatMax))
	}
	if len(f.Symbols) > 0 {
		conds = append(conds, "symbol = ANY("+arg(pq.Array(f.Symbols))+")")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM stocks WHERE %s LIMIT %d`,
		quoteJoin(stockColumns), strings.Join(conds, " AND "), limit,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select stocks")
	}
	defer rows.Close()

	var out []model.Quote
	for rows.Next() {
		var q model.Quote
		var raw []byte
		if err := rows.Scan(
			&q.Symbol, &q.Name, &q.Price, &q.Open, &q.High, &q.Low, &q.Close,
			&q.Volume, &q.ChangePercent, &q.MarketCap, &q.SharesFloat,
			&q.RelativeVolume, &raw, &q.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan stock row")
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &q.Raw); err != nil {
				// A corrupt raw bag is not worth failing a read over.
				s.log.Warnw("bad raw payload", "symbol", q.Symbol, "err", err)
			}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// TopSymbols returns symbols ordered by one numeric column, used by the
// delta selection strategy. The column is whitelisted, never interpolated
// from user input.
func (s *Store) TopSymbols(ctx context.Context, column string, descending bool, limit int) ([]string, error) {
	switch column {
	case "volume", "change_percent":
	default:
		return nil, errors.Errorf("top symbols: unsupported column %q", column)
	}
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT symbol FROM stocks WHERE %q IS NOT NULL ORDER BY %q %s LIMIT $1`,
		column, column, dir,
	)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "top symbols")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, errors.Wrap(err, "scan symbol")
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// ListTickers returns the known ticker universe, optionally paginated.
// limit <= 0 means everything.
func (s *Store) ListTickers(ctx context.Context, limit, offset int) ([]string, error) {
	query := `SELECT "Symbol" FROM stock_tickers ORDER BY "Symbol"`
	var args []any
	if limit > 0 {
		query += " LIMIT $1 OFFSET $2"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tickers")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, errors.Wrap(err, "scan ticker")
		}
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out, rows.Err()
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(quoted, ", ")
}
