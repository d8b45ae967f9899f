package main

import (
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/raterudder/homeplug/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func TestRunClosesStorageOnFailure(t *testing.T) {
	lflag.Reset()
	t.Cleanup(lflag.Reset)

	// hold the port so the server fails to start
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	path := filepath.Join(t.TempDir(), "homeplug.db")
	err = run(lflag.SourceStub{
		"storage-provider":   "bolt",
		"bolt-path":          path,
		"battery-provider":   "mock",
		"relay-provider":     "mock",
		"http-listen":        l.Addr().String(),
		"elpris-api-url":     "http://127.0.0.1:1",
		"open-meteo-api-url": "http://127.0.0.1:1",
		"metno-api-url":      "http://127.0.0.1:1",
		"metrics-disk-path":  t.TempDir(),
	})
	require.ErrorContains(t, err, "server error")

	// the file lock is only free once the store was closed
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
