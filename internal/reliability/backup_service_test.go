package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type fakeStore struct {
	uploads map[string][]byte
	objects []types.Object
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeStore) List(_ context.Context, _ string) ([]types.Object, error) {
	return f.objects, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func testDatabases(t *testing.T) map[string]*sql.DB {
	t.Helper()
	dbs := make(map[string]*sql.DB)
	for _, name := range []string{"universe", "history"} {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		_, err = db.Exec("CREATE TABLE t (v TEXT); INSERT INTO t VALUES ('data')")
		require.NoError(t, err)
		dbs[name] = db
	}
	return dbs
}

func TestBackupAll_UploadsArchiveWithAllDatabases(t *testing.T) {
	store := newFakeStore()
	svc := NewBackupService(testDatabases(t), t.TempDir(), store, 0, zerolog.Nop())

	require.NoError(t, svc.BackupAll(context.Background()))
	require.Len(t, store.uploads, 1)

	var key string
	var data []byte
	for k, v := range store.uploads {
		key, data = k, v
	}
	assert.True(t, strings.HasPrefix(key, backupPrefix))
	assert.True(t, strings.HasSuffix(key, ".tar.gz"))

	entries := readArchive(t, data)
	assert.Contains(t, entries, "universe.db")
	assert.Contains(t, entries, "history.db")
	require.Contains(t, entries, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(entries["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	for _, db := range metadata.Databases {
		assert.True(t, strings.HasPrefix(db.Checksum, "sha256:"))
		assert.Greater(t, db.SizeBytes, int64(0))
	}
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = content
	}
	return entries
}

func backupObject(age time.Duration) types.Object {
	key := backupPrefix + time.Now().Add(-age).Format(backupTimeLayout) + ".tar.gz"
	return types.Object{Key: aws.String(key), Size: aws.Int64(1024)}
}

func TestRotateOldBackups_KeepsNewestThree(t *testing.T) {
	store := newFakeStore()
	store.objects = []types.Object{
		backupObject(1 * time.Hour),
		backupObject(24 * time.Hour),
		backupObject(48 * time.Hour),
		backupObject(30 * 24 * time.Hour),
		backupObject(60 * 24 * time.Hour),
	}
	svc := NewBackupService(nil, t.TempDir(), store, 14, zerolog.Nop())

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Len(t, store.deleted, 2, "only the two expired backups beyond the keep floor go")
}

func TestRotateOldBackups_RetentionDisabled(t *testing.T) {
	store := newFakeStore()
	store.objects = []types.Object{
		backupObject(365 * 24 * time.Hour),
		backupObject(2 * 365 * 24 * time.Hour),
		backupObject(3 * 365 * 24 * time.Hour),
		backupObject(4 * 365 * 24 * time.Hour),
	}
	svc := NewBackupService(nil, t.TempDir(), store, 0, zerolog.Nop())

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Empty(t, store.deleted)
}

func TestListBackups_SortsNewestFirstAndSkipsJunk(t *testing.T) {
	store := newFakeStore()
	store.objects = []types.Object{
		backupObject(48 * time.Hour),
		backupObject(1 * time.Hour),
		{Key: aws.String("unrelated-object.txt")},
		{Key: aws.String(backupPrefix + "garbage.tar.gz")},
	}
	svc := NewBackupService(nil, t.TempDir(), store, 0, zerolog.Nop())

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
}
