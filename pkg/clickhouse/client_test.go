package clickhouse

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:             "ch.local",
		Port:             9000,
		Database:         "alchemist",
		User:             "sim",
		Password:         "p@ss",
		DialTimeout:      5 * time.Second,
		MaxExecutionTime: time.Minute,
		AsyncInsert:      true,
		WaitForAsync:     true,
	})
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", dsn, err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/alchemist" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Fatalf("password not preserved: %q", dsn)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "5s" || q.Get("max_execution_time") != "60" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("unexpected query %v", q)
	}

	if u, _ := url.Parse(buildDSN(ClientConfig{Host: "h", Port: 8123, UseHTTP: true})); u.Scheme != "http" {
		t.Fatalf("expected http scheme, got %q", u.Scheme)
	}
}

func TestInsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	c := NewFromDB(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO bars")
	prep.ExpectExec().WithArgs("AAA", 1.5).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("BBB", 2.5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := c.InsertBatch(context.Background(), "INSERT INTO bars (symbol, close)", [][]any{{"AAA", 1.5}, {"BBB", 2.5}}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertBatchRollsBackOnRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	c := NewFromDB(db)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO bars").ExpectExec().WillReturnError(errors.New("bad row"))
	mock.ExpectRollback()

	if err := c.InsertBatch(context.Background(), "INSERT INTO bars (symbol)", [][]any{{"AAA"}}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClientConfigValidate(t *testing.T) {
	cfg := defaultClientConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing host must fail")
	}
	cfg.Host = "ch.local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with host: %v", err)
	}
	WithMaxConnections(2, 4)(&cfg)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("idle above open must fail")
	}
	if _, err := NewClient(WithPort(9000)); err == nil {
		t.Fatalf("NewClient without host must fail before dialing")
	}
}
