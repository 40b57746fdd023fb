package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"stockrefresh/internal/model"
)

func initMocks(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(db, zap.NewNop().Sugar()), mock, db
}

func TestUpsertStocks_SingleChunk(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	ts := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	rows := []model.Quote{
		{Symbol: "AAPL", Price: model.Float(190.5), UpdatedAt: ts},
		{Symbol: "MSFT", Price: model.Float(410.1), UpdatedAt: ts},
	}

	mock.ExpectExec(`INSERT INTO stocks \(.+\) VALUES .+ ON CONFLICT \(symbol\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.UpsertStocks(context.Background(), rows); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpsertStocks_SkipsNilPrice(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	ts := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	rows := []model.Quote{
		{Symbol: "AAPL", Price: model.Float(190.5), UpdatedAt: ts},
		{Symbol: "GHOST", UpdatedAt: ts}, // no price, must not be written
	}

	// Only one placeholder tuple: 14 args total.
	mock.ExpectExec(`INSERT INTO stocks`).
		WithArgs(
			"AAPL", nil, 190.5, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, ts,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertStocks(context.Background(), rows); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpsertStocks_ChunksOfOneHundred(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	rows := make([]model.Quote, 150)
	for i := range rows {
		rows[i] = model.Quote{Symbol: "S" + string(rune('A'+i%26)) + string(rune('A'+i/26)), Price: model.Float(1)}
	}

	mock.ExpectExec(`INSERT INTO stocks`).WillReturnResult(sqlmock.NewResult(0, 100))
	mock.ExpectExec(`INSERT INTO stocks`).WillReturnResult(sqlmock.NewResult(0, 50))

	if err := s.UpsertStocks(context.Background(), rows); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpsertStocks_EmptyIsNoop(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	if err := s.UpsertStocks(context.Background(), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectStocks_FiltersAndNullScanning(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	ts := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(stockColumns).
		AddRow("AAPL", "Apple Inc.", 190.5, 188.0, 191.0, 187.5, nil,
			1000000.0, 1.23, 3.0e12, 1.55e10, nil, []byte(`{"primary":{"a":1}}`), ts).
		AddRow("MSFT", nil, 410.1, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, ts)

	mock.ExpectQuery(`SELECT .+ FROM stocks WHERE price IS NOT NULL AND price >= \$1 AND volume >= \$2`).
		WithArgs(5.0, 100000.0).
		WillReturnRows(rows)

	got, err := s.SelectStocks(context.Background(), model.Filters{
		PriceMin:  model.Float(5),
		VolumeMin: model.Float(100000),
	}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 rows, got %d", len(got))
	}
	if *got[0].Name != "Apple Inc." || *got[0].Price != 190.5 {
		t.Errorf("unexpected first row: %+v", got[0])
	}
	if got[0].Close != nil {
		t.Errorf("close should scan NULL to nil, got %v", *got[0].Close)
	}
	if len(got[0].Raw) != 1 {
		t.Errorf("raw not unmarshaled: %v", got[0].Raw)
	}
	if got[1].Name != nil || got[1].Volume != nil {
		t.Errorf("nullable fields should be nil: %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectStocks_SymbolSet(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM stocks WHERE price IS NOT NULL AND symbol = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows(stockColumns))

	_, err := s.SelectStocks(context.Background(), model.Filters{
		Symbols: []string{"AAPL", "MSFT"},
	}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectStocks_CapsLimit(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM stocks WHERE price IS NOT NULL LIMIT 1000`).
		WillReturnRows(sqlmock.NewRows(stockColumns))

	// A limit over the cap is clamped to 1000.
	if _, err := s.SelectStocks(context.Background(), model.Filters{}, 50000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestTopSymbols(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT symbol FROM stocks WHERE "volume" IS NOT NULL ORDER BY "volume" DESC LIMIT \$1`).
		WithArgs(250).
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("AAPL").AddRow("MSFT"))

	got, err := s.TopSymbols(context.Background(), "volume", true, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "AAPL" {
		t.Errorf("unexpected symbols: %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestTopSymbols_RejectsUnknownColumn(t *testing.T) {
	s, _, db := initMocks(t)
	defer db.Close()

	if _, err := s.TopSymbols(context.Background(), "price; DROP TABLE stocks", true, 10); err == nil {
		t.Fatalf("want error for non-whitelisted column")
	}
}

func TestListTickers(t *testing.T) {
	s, mock, db := initMocks(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT "Symbol" FROM stock_tickers ORDER BY "Symbol" LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 200).
		WillReturnRows(sqlmock.NewRows([]string{"Symbol"}).AddRow("AAPL").AddRow("").AddRow("MSFT"))

	got, err := s.ListTickers(context.Background(), 100, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Empty symbols are dropped.
	if len(got) != 2 || got[1] != "MSFT" {
		t.Errorf("unexpected tickers: %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
