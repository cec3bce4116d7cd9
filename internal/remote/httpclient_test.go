package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/remote/remotetest"
)

func newClient(t *testing.T) (*remote.HTTPClient, *remotetest.Server) {
	t.Helper()
	srv := remotetest.NewServer()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return remote.NewHTTPClient(httpSrv.URL, httpSrv.Client()), srv
}

func TestInsertKeepsClientID(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()

	accepted, err := client.Insert(ctx, remote.TableItems, remote.Row{
		"id": "I-123", "account_id": "acct-1", "name": "Widget",
	})
	require.NoError(t, err)
	assert.Equal(t, "I-123", accepted["id"])
	assert.Equal(t, float64(1), accepted["version"])
	assert.NotEmpty(t, accepted["updated_at"])
	assert.NotNil(t, srv.Get(remote.TableItems, "I-123"))
}

func TestInsertAssignsIDWhenMissing(t *testing.T) {
	client, _ := newClient(t)

	accepted, err := client.Insert(context.Background(), remote.TableItems, remote.Row{
		"account_id": "acct-1", "name": "Widget",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^srv-\d+$`, accepted["id"])
}

func TestUpdateBumpsVersion(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	_, err := client.Insert(ctx, remote.TableItems, remote.Row{"id": "I-1", "name": "Widget"})
	require.NoError(t, err)

	updated, err := client.Update(ctx, remote.TableItems,
		remote.Filter{"id": "I-1"}, remote.Row{"name": "Gadget"})
	require.NoError(t, err)
	assert.Equal(t, "Gadget", updated["name"])
	assert.Equal(t, float64(2), updated["version"])
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.Update(context.Background(), remote.TableItems,
		remote.Filter{"id": "I-nope"}, remote.Row{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, remote.CodeNotFound, remote.CodeOf(err))
	assert.False(t, remote.IsRetryable(err))
}

func TestForeignKeyErrorCarriesField(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.Insert(context.Background(), remote.TableTransactions, remote.Row{
		"id": "T-1", "category_id": "cat-gone",
	})
	require.Error(t, err)
	assert.Equal(t, remote.CodeForeignKey, remote.CodeOf(err))
	assert.Equal(t, "category_id", remote.FieldOf(err))
	assert.Contains(t, err.Error(), "cat-gone")
}

func TestEmptyCategoryReferencePasses(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.Insert(context.Background(), remote.TableTransactions, remote.Row{
		"id": "T-1", "category_id": "",
	})
	require.NoError(t, err)
}

func TestScriptedFailureServedOnce(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()

	srv.FailNext("insert", remote.TableItems, remote.Error{
		Code: remote.CodeUnavailable, Message: "maintenance",
	})

	_, err := client.Insert(ctx, remote.TableItems, remote.Row{"id": "I-1"})
	require.Error(t, err)
	assert.Equal(t, remote.CodeUnavailable, remote.CodeOf(err))
	assert.True(t, remote.IsRetryable(err))

	_, err = client.Insert(ctx, remote.TableItems, remote.Row{"id": "I-1"})
	require.NoError(t, err)
}

func TestDeleteAndSelect(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	for _, id := range []string{"I-1", "I-2"} {
		_, err := client.Insert(ctx, remote.TableItems, remote.Row{"id": id, "account_id": "acct-1"})
		require.NoError(t, err)
	}

	rows, err := client.Select(ctx, remote.TableItems, remote.Filter{"account_id": "acct-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, client.Delete(ctx, remote.TableItems, remote.Filter{"id": "I-1"}))

	rows, err = client.Select(ctx, remote.TableItems, remote.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "I-2", rows[0]["id"])
}

func TestDeadlineBecomesNetworkTimeout(t *testing.T) {
	client, _ := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := client.Select(ctx, remote.TableItems, nil)
	require.Error(t, err)
	assert.True(t, domain.IsNetworkTimeout(err))
	// Unstructured transport failures stay retryable.
	assert.True(t, remote.IsRetryable(err))
}
