package mssql

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-data/storekit/internal/core/domain"
)

func TestAvailable(t *testing.T) {
	// Importing this package registers the driver.
	assert.True(t, Available())
}

func TestBuildDSN_Credentials(t *testing.T) {
	dsn := buildDSN(domain.StorageConfig{
		Type:     domain.BackendMSSQL,
		Server:   "db.example.com:1433",
		Database: "appdata",
		Username: "svc_user",
		Password: "s3cret!",
		Encrypt:  true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "db.example.com:1433", u.Host)
	assert.Equal(t, "svc_user", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "s3cret!", pass)
	assert.Equal(t, "appdata", u.Query().Get("database"))
	assert.Equal(t, "true", u.Query().Get("encrypt"))
	assert.Empty(t, u.Query().Get("trustservercertificate"))
}

func TestBuildDSN_TrustedConnection(t *testing.T) {
	dsn := buildDSN(domain.StorageConfig{
		Type:              domain.BackendMSSQL,
		Server:            "db.example.com",
		Database:          "appdata",
		TrustedConnection: true,
		Username:          "ignored",
		Password:          "ignored",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	// Integrated auth keeps credentials out of the descriptor.
	assert.Nil(t, u.User)
}

func TestBuildDSN_TransportFlags(t *testing.T) {
	dsn := buildDSN(domain.StorageConfig{
		Type:                   domain.BackendMSSQL,
		Server:                 "db.example.com",
		Database:               "appdata",
		Username:               "u",
		Password:               "p",
		Encrypt:                false,
		TrustServerCertificate: true,
		ConnectionTimeout:      15 * time.Second,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "disable", u.Query().Get("encrypt"))
	assert.Equal(t, "true", u.Query().Get("trustservercertificate"))
	assert.Equal(t, "15", u.Query().Get("dial timeout"))
}

func TestUpsertSerialisesConcurrentInserts(t *testing.T) {
	// MERGE without a range lock lets two concurrent stores of a new key
	// both take the insert branch; the hint must stay on the statement.
	assert.Contains(t, upsertSQL, "WITH (HOLDLOCK)")
	assert.Contains(t, upsertSQL, "MERGE storage_records WITH (HOLDLOCK) AS target")
}

func TestAdapter_OperationsBeforeConnect(t *testing.T) {
	ctx := context.Background()
	a := New(domain.StorageConfig{
		Type:     domain.BackendMSSQL,
		Server:   "db.example.com",
		Username: "u",
		Password: "p",
	})

	_, err := a.Retrieve(ctx, "users", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)

	err = a.Store(ctx, "users", "u1", map[string]any{"n": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)

	_, err = a.ListKeys(ctx, "users")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestAdapter_Connect_Unreachable(t *testing.T) {
	// Nothing listens on this port; Connect must fail fast with a
	// connection error rather than hang.
	a := New(domain.StorageConfig{
		Type:              domain.BackendMSSQL,
		Server:            "127.0.0.1:1",
		Database:          "appdata",
		Username:          "u",
		Password:          "p",
		ConnectionTimeout: 2 * time.Second,
	})

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestAdapter_CloseTerminal(t *testing.T) {
	a := New(domain.StorageConfig{
		Type:     domain.BackendMSSQL,
		Server:   "db.example.com",
		Username: "u",
		Password: "p",
	})

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
}
