package review

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Create must write the compliance record and its oversight entry in one
// transaction; a failure on either insert leaves no partial pair behind.
func TestCreate_BothRowsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	q := NewQueue(db, nil, slog.New(slog.DiscardHandler))

	mock.ExpectQuery("SELECT seal_id FROM compliance_records").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"seal_id"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compliance_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO human_oversight").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sealID, err := q.Create(context.Background(), CreateParams{
		AgentID:         "agent-1",
		Action:          "transfer_data_to_us",
		EvidenceEventID: "evt-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sealID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RollsBackWhenOversightInsertFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	q := NewQueue(db, nil, slog.New(slog.DiscardHandler))

	mock.ExpectQuery("SELECT seal_id FROM compliance_records").
		WithArgs("evt-2").
		WillReturnRows(sqlmock.NewRows([]string{"seal_id"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compliance_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO human_oversight").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = q.Create(context.Background(), CreateParams{
		AgentID:         "agent-1",
		Action:          "transfer_data_to_us",
		EvidenceEventID: "evt-2",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A loser of the unique-index race on evidence_event_id returns the
// winner's seal instead of an error.
func TestCreate_ReturnsWinningSealOnInsertConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	q := NewQueue(db, nil, slog.New(slog.DiscardHandler))

	mock.ExpectQuery("SELECT seal_id FROM compliance_records").
		WithArgs("evt-3").
		WillReturnRows(sqlmock.NewRows([]string{"seal_id"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compliance_records").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT seal_id FROM compliance_records").
		WithArgs("evt-3").
		WillReturnRows(sqlmock.NewRows([]string{"seal_id"}).AddRow("SEAL-WINNER"))

	sealID, err := q.Create(context.Background(), CreateParams{
		AgentID:         "agent-1",
		Action:          "transfer_data_to_us",
		EvidenceEventID: "evt-3",
	})
	require.NoError(t, err)
	assert.Equal(t, "SEAL-WINNER", sealID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
