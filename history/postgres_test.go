package history

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/observation"
)

var _ Store = (*PostgresStore)(nil)

// flexibleSQL builds a regex that ignores whitespace differences.
func flexibleSQL(sql string) string {
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(strings.TrimSpace(sql)), `\s+`)
}

func newMockStore(t *testing.T, optFns ...func(o *PostgresOptions)) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	mock.ExpectExec(flexibleSQL(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(flexibleSQL(sqlCreateIndex)).WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	s, err := NewPostgresStore(context.Background(), mock, optFns...)
	require.NoError(t, err)
	return s, mock
}

func TestNewPostgresStore_PingFailure(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	pingErr := errors.New("database unavailable")
	mock.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresStore(context.Background(), mock)
	require.ErrorIs(t, err, pingErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_SkipSchema(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	_, err = NewPostgresStore(context.Background(), mock, func(o *PostgresOptions) { o.SkipSchema = true })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	s, mock := newMockStore(t)
	o := chat(t, "hello", "a1")

	mock.ExpectExec(flexibleSQL(sqlInsert)).
		WithArgs("s1", "chat", "a1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Append(context.Background(), "s1", o))
	assert.ErrorIs(t, s.Append(context.Background(), "s1", observation.Observation{}), ErrZeroObservation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendPropagatesExecError(t *testing.T) {
	s, mock := newMockStore(t)
	execErr := errors.New("disk full")
	mock.ExpectExec(flexibleSQL(sqlInsert)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(execErr)

	err := s.Append(context.Background(), "s1", chat(t, "hello", "a1"))
	assert.ErrorIs(t, err, execErr)
}

func TestPostgresStore_ListDecodesWireForm(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"body"}).
		AddRow([]byte(`{"observation_type":"chat","cause":"a1","message":"one"}`)).
		AddRow([]byte(`{"observation_type":"run","cause":"a2","exit_code":3}`))
	mock.ExpectQuery(flexibleSQL(sqlList)).WithArgs("s1").WillReturnRows(rows)

	got, err := s.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, observation.KindChat, got[0].Kind())
	assert.Equal(t, "a1", got[0].Cause())
	p, ok := observation.PayloadAs[observation.RunPayload](got[1])
	require.True(t, ok)
	assert.Equal(t, 3, p.ExitStatus())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Filters(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(flexibleSQL(sqlListByCause)).WithArgs("s1", "a2").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"observation_type":"chat","cause":"a2","message":"x"}`)))
	mock.ExpectQuery(flexibleSQL(sqlListByKind)).WithArgs("s1", "run").
		WillReturnRows(pgxmock.NewRows([]string{"body"}))

	byCause, err := s.ByCause(ctx, "s1", "a2")
	require.NoError(t, err)
	require.Len(t, byCause, 1)
	assert.Equal(t, "a2", byCause[0].Cause())

	byKind, err := s.ByKind(ctx, "s1", observation.KindRun)
	require.NoError(t, err)
	assert.Empty(t, byKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RejectsCorruptRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(flexibleSQL(sqlList)).WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"observation_type":"screenshot"}`)))

	_, err := s.List(context.Background(), "s1")
	require.ErrorIs(t, err, observation.ErrUnknownKind)
	assert.Contains(t, err.Error(), "row 0")
}

func TestPostgresStore_LenAndSessions(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(flexibleSQL(sqlCount)).WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(flexibleSQL(sqlListSessions)).
		WillReturnRows(pgxmock.NewRows([]string{"session_id"}).AddRow("s1").AddRow("s2"))

	n, err := s.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ids, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// bodyArg records the wire bytes passed for the body column.
type bodyArg struct{ got []byte }

func (b *bodyArg) Match(v any) bool {
	data, ok := v.([]byte)
	if ok {
		b.got = append([]byte(nil), data...)
	}
	return ok
}

func TestPostgresStore_OpaqueRowsKeepTheirBytes(t *testing.T) {
	assert.Contains(t, sqlCreateTable, "body JSON NOT NULL")

	codec, err := observation.NewCodec(observation.PolicyLenient)
	require.NoError(t, err)
	s, mock := newMockStore(t, func(o *PostgresOptions) { o.Codec = codec })
	ctx := context.Background()

	raw := []byte(`{"observation_type":"screenshot",  "zeta":1,"alpha":{"b":2,"a":1},"cause":"a9"}`)
	o, err := codec.Deserialize(raw)
	require.NoError(t, err)
	require.True(t, o.IsOpaque())

	body := &bodyArg{}
	mock.ExpectExec(flexibleSQL(sqlInsert)).
		WithArgs("s1", "screenshot", "a9", body).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Append(ctx, "s1", o))
	assert.Equal(t, raw, body.got)

	mock.ExpectQuery(flexibleSQL(sqlList)).WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(body.got))
	got, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].IsOpaque())

	wire, err := codec.Serialize(got[0])
	require.NoError(t, err)
	assert.Equal(t, raw, wire)
	assert.NoError(t, mock.ExpectationsWereMet())
}
