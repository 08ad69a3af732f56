package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c2h5ohfu/AetherCell/internal/log"
	"github.com/c2h5ohfu/AetherCell/internal/scope"
)

// execCall records one Exec invocation against the fake database.
type execCall struct {
	sql  string
	args []any
}

// fakeDB implements Querier in memory for unit tests. Integration against
// a real PostgreSQL is covered separately.
type fakeDB struct {
	execCalls []execCall
	execTag   pgconn.CommandTag
	execErr   error

	queryRows [][]any
	queryErr  error
	querySQL  string
	queryArgs []any

	rowVals []any
	rowErr  error

	sentBatches []*pgx.Batch
	batchErr    error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, execCall{sql: sql, args: args})
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.querySQL = sql
	f.queryArgs = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.queryRows}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.querySQL = sql
	f.queryArgs = args
	return &fakeRow{vals: f.rowVals, err: f.rowErr}
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.sentBatches = append(f.sentBatches, b)
	return &fakeBatchResults{n: b.Len(), err: f.batchErr}
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assignRow(r.rows[r.pos-1], dest)
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignRow(r.vals, dest)
}

type fakeBatchResults struct {
	n   int
	err error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.err }
func (b *fakeBatchResults) Query() (pgx.Rows, error)         { return nil, b.err }
func (b *fakeBatchResults) QueryRow() pgx.Row                { return &fakeRow{err: b.err} }
func (b *fakeBatchResults) Close() error                     { return nil }

// assignRow copies row values into scan destinations. Nil values leave
// pointer destinations nil, mirroring NULL column behavior.
func assignRow(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, v := range vals {
		dv := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(v)
		if dv.Kind() == reflect.Pointer && sv.Type() == dv.Type().Elem() {
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(sv)
			dv.Set(p)
			continue
		}
		dv.Set(sv)
	}
	return nil
}

func TestAddChunks_RejectsOwnershipViolation(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	err := s.AddChunks(context.Background(), []ChunkRow{
		{ID: "c1", BatchID: "b1", Content: "ok"},
		{ID: "c2", BatchID: "b1", SessionID: "s1", Content: "bad"},
	})

	assert.ErrorIs(t, err, scope.ErrBothOwners)
	assert.Empty(t, db.sentBatches, "nothing written when any row is invalid")

	err = s.AddChunks(context.Background(), []ChunkRow{{ID: "c3", Content: "orphan"}})
	assert.ErrorIs(t, err, scope.ErrNoOwner)
}

func TestAddChunks_InsertsPendingRows(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	chunks := []ChunkRow{
		{ID: "c1", BatchID: "b1", Source: "f.csv", Index: 0, Content: "one", Metadata: map[string]string{"scope": "public"}},
		{ID: "c2", SessionID: "s1", Source: "f.csv", Index: 1, Content: "two", Metadata: map[string]string{"scope": "session"}},
	}
	require.NoError(t, s.AddChunks(context.Background(), chunks))

	require.Len(t, db.sentBatches, 1)
	queued := db.sentBatches[0].QueuedQueries
	require.Len(t, queued, 2)

	// First chunk: batch owner set, session nil, state pending.
	args := queued[0].Arguments
	assert.Equal(t, "c1", args[0])
	require.NotNil(t, args[1])
	assert.Equal(t, "b1", *args[1].(*string))
	assert.Nil(t, args[2])
	assert.Equal(t, VectorStatePending, args[7])

	// Second chunk: session owner set, batch nil.
	args = queued[1].Arguments
	assert.Nil(t, args[1])
	require.NotNil(t, args[2])
	assert.Equal(t, "s1", *args[2].(*string))

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(args[6].([]byte), &metadata))
	assert.Equal(t, "session", metadata["scope"])
}

func TestAddChunks_Empty(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	require.NoError(t, s.AddChunks(context.Background(), nil))
	assert.Empty(t, db.sentBatches)
}

func TestUpdateBatchStatus(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := New(db, log.NewNop())

	require.NoError(t, s.UpdateBatchStatus(context.Background(), "b1", StatusCompleted))
	require.Len(t, db.execCalls, 1)
	assert.Equal(t, []any{"b1", StatusCompleted}, db.execCalls[0].args)
}

func TestUpdateBatchStatus_MissingBatch(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	s := New(db, log.NewNop())

	err := s.UpdateBatchStatus(context.Background(), "absent", StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBatch_NotFound(t *testing.T) {
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	s := New(db, log.NewNop())

	_, err := s.GetBatch(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBatch(t *testing.T) {
	now := time.Now()
	db := &fakeDB{rowVals: []any{"b1", "doc.pdf", "u1", StatusProcessing, "f1", now}}
	s := New(db, log.NewNop())

	b, err := s.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", b.Filename)
	assert.Equal(t, "f1", b.StoredFileID)
	assert.Equal(t, StatusProcessing, b.Status)
}

func TestChunkIDsByBatch(t *testing.T) {
	db := &fakeDB{queryRows: [][]any{{"c1"}, {"c2"}}}
	s := New(db, log.NewNop())

	ids, err := s.ChunkIDsByBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
	assert.Equal(t, []any{"b1"}, db.queryArgs)
}

func TestPendingChunks(t *testing.T) {
	db := &fakeDB{queryRows: [][]any{
		{"c1", "b1", nil, "doc.pdf", 0, "text", []byte(`{"scope":"public"}`)},
		{"c2", nil, "s1", "notes.txt", 3, "more", []byte(`{"scope":"session"}`)},
	}}
	s := New(db, log.NewNop())

	cutoff := time.Now().Add(-5 * time.Minute)
	chunks, err := s.PendingChunks(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "b1", chunks[0].BatchID)
	assert.Empty(t, chunks[0].SessionID)
	assert.Equal(t, "public", chunks[0].Metadata["scope"])

	assert.Empty(t, chunks[1].BatchID)
	assert.Equal(t, "s1", chunks[1].SessionID)
	assert.Equal(t, 3, chunks[1].Index)
	assert.Equal(t, []any{VectorStatePending, cutoff}, db.queryArgs)
}

func TestDeleteChunksByIDs_Empty(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	require.NoError(t, s.DeleteChunksByIDs(context.Background(), nil))
	assert.Empty(t, db.execCalls, "no round trip for empty id set")
}

func TestSaveMessage(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	require.NoError(t, s.SaveMessage(context.Background(), "s1", "assistant", "done"))
	require.Len(t, db.execCalls, 1)
	assert.Equal(t, []any{"s1", "assistant", "done"}, db.execCalls[0].args)
}

func TestCreateStoredFile_SessionNullability(t *testing.T) {
	db := &fakeDB{}
	s := New(db, log.NewNop())

	require.NoError(t, s.CreateStoredFile(context.Background(), StoredFile{
		ID: "f1", Filename: "a.txt", FileType: "txt", Content: []byte("x"), UploaderID: "u1",
	}))
	require.Len(t, db.execCalls, 1)
	assert.Nil(t, db.execCalls[0].args[6], "public upload stores NULL session")

	require.NoError(t, s.CreateStoredFile(context.Background(), StoredFile{
		ID: "f2", Filename: "b.txt", FileType: "txt", Content: []byte("y"), UploaderID: "u1", SessionID: "s9",
	}))
	require.Len(t, db.execCalls, 2)
	require.NotNil(t, db.execCalls[1].args[6])
	assert.Equal(t, "s9", *db.execCalls[1].args[6].(*string))
}
