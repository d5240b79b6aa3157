package engine

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/config"
	"querygate/internal/domain"
)

func TestLeadingKeyword(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"select * from users", "SELECT"},
		{"  INSERT INTO t VALUES (1)", "INSERT"},
		{"\nupdate t set x = 1 where id = 1", "UPDATE"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, leadingKeyword(tc.in), "%q", tc.in)
	}
}

func TestRelationalExecErrorMapsPgError(t *testing.T) {
	err := relationalExecError("execute query", &pgconn.PgError{
		Code:     "42P01",
		Message:  `relation "missing" does not exist`,
		Position: 15,
		Detail:   "detail text",
	})

	var qerr *domain.QueryExecutionError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "42P01", qerr.Code)
	assert.Equal(t, 15, qerr.Position)
	assert.Equal(t, "detail text", qerr.Detail)
	assert.Contains(t, qerr.Message, "does not exist")
}

func TestRelationalExecErrorWrapsPlainError(t *testing.T) {
	err := relationalExecError("commit", errors.New("broken pipe"))

	var qerr *domain.QueryExecutionError
	require.ErrorAs(t, err, &qerr)
	assert.Empty(t, qerr.Code)
	assert.Contains(t, qerr.Message, "broken pipe")
}

func TestRelationalValidateReturnsWarnings(t *testing.T) {
	cfg := config.EngineConfig{MaxQueryLength: 1000, DangerousChecks: true}
	d := NewRelationalDriver(cfg, nil, nil, nil)

	warnings, err := d.Validate("DELETE FROM orders")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "DELETE without WHERE clause", warnings[0].Description)
}

func TestRelationalValidateRejectsOversized(t *testing.T) {
	cfg := config.EngineConfig{MaxQueryLength: 10, DangerousChecks: true}
	d := NewRelationalDriver(cfg, nil, nil, nil)

	_, err := d.Validate("SELECT * FROM a_rather_long_table_name")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

// fakeRows implements pgx.Rows over an in-memory row set.
type fakeRows struct {
	fields []pgconn.FieldDescription
	rows   [][]any
	tag    pgconn.CommandTag
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return errors.New("not implemented") }
func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

var _ pgx.Rows = (*fakeRows)(nil)

func TestScanRelationalRows(t *testing.T) {
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}},
		rows: [][]any{
			{int64(1), "alpha"},
			{int64(2), []byte("beta")},
		},
		tag: pgconn.NewCommandTag("SELECT 2"),
	}

	result, err := scanRelationalRows(rows, 10)
	require.NoError(t, err)

	assert.Equal(t, []domain.ColumnInfo{{Name: "id"}, {Name: "name"}}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, "SELECT", result.Command)
	assert.True(t, rows.closed)

	// Byte slices come back as strings so results serialize cleanly.
	assert.Equal(t, "beta", result.Rows[1][1])
}

func TestScanRelationalRowsTruncatesAtCap(t *testing.T) {
	set := make([][]any, 7)
	for i := range set {
		set[i] = []any{int64(i)}
	}
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "n"}},
		rows:   set,
		tag:    pgconn.NewCommandTag("SELECT 7"),
	}

	result, err := scanRelationalRows(rows, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.Len(t, result.Rows, 5)
	assert.True(t, result.Truncated)
}

func TestScanRelationalRowsPropagatesRowError(t *testing.T) {
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "n"}},
		err:    errors.New("connection reset"),
	}

	_, err := scanRelationalRows(rows, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
