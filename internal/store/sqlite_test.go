package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/netmedic/netmedic/pkg/models"
)

func TestNewSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmedic.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	seedSession(t, s, "persisted", testBase, func(sess *models.Session) {
		sess.Provider = "openai"
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite(reopen): %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetSession(context.Background(), "persisted")
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if got.Provider != "openai" || !got.StartedAt.Equal(testBase) {
		t.Errorf("reopened session = %+v", got)
	}
}

func TestUpsertSessionPropagatesWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO sessions").WillReturnError(fmt.Errorf("disk I/O error"))

	s := &SQLiteStore{db: db}
	err = s.UpsertSession(context.Background(), models.NewSession("sess"))
	if err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("UpsertSession = %v, want disk I/O error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetSessionMapsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := &SQLiteStore{db: db}
	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession = %v, want ErrNotFound", err)
	}
}

func TestAppendEventPropagatesWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").WillReturnError(fmt.Errorf("database is locked"))

	s := &SQLiteStore{db: db}
	err = s.AppendEvent(context.Background(), &models.Event{SessionID: "sess", Type: models.EventLLMCall})
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Errorf("AppendEvent = %v, want locked error", err)
	}
}

// Week labels come from SQLite's strftime on one backend and from
// periodLabel on the other; the two must agree for any date.
func TestWeekBucketsMatchPeriodLabel(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	dates := []time.Time{
		time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC),
	}
	want := make(map[string]int)
	for i, date := range dates {
		seedSession(t, s, fmt.Sprintf("w-%d", i), date, func(sess *models.Session) {
			sess.Provider = "openai"
		})
		want[periodLabel(date, GranularityWeek)]++
	}

	buckets, err := s.CostByPeriod(context.Background(), Window{}, GranularityWeek)
	if err != nil {
		t.Fatalf("CostByPeriod: %v", err)
	}
	got := make(map[string]int)
	for _, bucket := range buckets {
		got[bucket.Period] = bucket.Sessions
	}
	if len(got) != len(want) {
		t.Fatalf("bucket labels = %v, want %v", got, want)
	}
	for label, count := range want {
		if got[label] != count {
			t.Errorf("bucket[%s] = %d, want %d", label, got[label], count)
		}
	}

	// Known anchors: the first Monday of 2026 is Jan 5, so Jan 1 falls
	// in week zero.
	if label := periodLabel(dates[1], GranularityWeek); label != "2026-W00" {
		t.Errorf("label(2026-01-01) = %q, want 2026-W00", label)
	}
	if label := periodLabel(dates[2], GranularityWeek); label != "2026-W01" {
		t.Errorf("label(2026-01-05) = %q, want 2026-W01", label)
	}
}

func TestAppendMessageRequiresSession(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	err = s.AppendMessage(context.Background(), &models.Message{
		SessionID: "never-created",
		Role:      models.RoleUser,
		Content:   "hello",
	})
	if err == nil {
		t.Error("AppendMessage without a session succeeded, want foreign key failure")
	}
}
