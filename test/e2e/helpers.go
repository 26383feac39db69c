package e2e

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Nithusan2002/matlogg/internal/api"
	"github.com/Nithusan2002/matlogg/internal/apply"
	"github.com/Nithusan2002/matlogg/internal/store"
	"github.com/Nithusan2002/matlogg/pkg/diary"
)

var testJWTSecret = []byte("e2e-test-secret")

// serverEnv is one running sync server with direct access to its store for
// assertions.
type serverEnv struct {
	store *store.SQLiteStore
	srv   *httptest.Server
}

func startServer(t *testing.T) *serverEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("create server store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	handler := api.NewHandler(apply.New(s), testJWTSecret, "e2e")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)

	return &serverEnv{store: s, srv: srv}
}

func signUserToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testJWTSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// clientEnv is one device: a local diary store wired to the server.
type clientEnv struct {
	store     *diary.Store
	transport *diary.Transport
	syncer    *diary.Syncer
}

func startClient(t *testing.T, server *serverEnv, userID, deviceID string) *clientEnv {
	t.Helper()

	s, err := diary.NewStore(filepath.Join(t.TempDir(), "diary.db"))
	if err != nil {
		t.Fatalf("create diary store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	token := signUserToken(t, userID)
	tr := diary.NewTransport(server.srv.URL, deviceID, func(ctx context.Context) (string, error) {
		return token, nil
	})
	y, err := diary.NewSyncer(s, tr, diary.SyncerOptions{})
	if err != nil {
		t.Fatalf("create syncer: %v", err)
	}
	return &clientEnv{store: s, transport: tr, syncer: y}
}

func mustSync(t *testing.T, c *clientEnv) {
	t.Helper()
	if err := c.syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func pendingCount(t *testing.T, c *clientEnv) int64 {
	t.Helper()
	n, err := c.store.PendingCount()
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	return n
}

func inboxCount(t *testing.T, server *serverEnv) int64 {
	t.Helper()
	n, err := server.store.CountInboxEvents(context.Background())
	if err != nil {
		t.Fatalf("count inbox events: %v", err)
	}
	return n
}
