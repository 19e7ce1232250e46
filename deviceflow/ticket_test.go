package deviceflow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashieapp/dashie-auth/deviceflow"
)

func TestNewUserCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := deviceflow.NewUserCode()
		require.NoError(t, err)
		require.Len(t, code, 9)
		require.Equal(t, byte('-'), code[4])
		for _, c := range strings.ReplaceAll(code, "-", "") {
			require.NotContains(t, "01258BILOSZ", string(c), "ambiguous character in user code")
		}
		seen[code] = true
	}
	require.Greater(t, len(seen), 45, "user codes should not collide in a small sample")
}

func TestNormalizeUserCode(t *testing.T) {
	require.Equal(t, "CDFGHJKM", deviceflow.NormalizeUserCode(" cdfg-hjkm "))
	require.Equal(t, "CDFGHJKM", deviceflow.NormalizeUserCode("CDFG HJKM"))
	require.Equal(t, "CDFGHJKM", deviceflow.NormalizeUserCode("CDFGHJKM"))
}

func TestNewDeviceCode(t *testing.T) {
	a, err := deviceflow.NewDeviceCode(32)
	require.NoError(t, err)
	b, err := deviceflow.NewDeviceCode(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 43) // 32 bytes, base64 raw URL
}

func TestInMemoryRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	newTicket := func(t *testing.T, repo *deviceflow.InMemoryRepo) *deviceflow.Ticket {
		t.Helper()
		ticket := &deviceflow.Ticket{
			DeviceCode: "device-code-1",
			UserCode:   "CDFG-HJKM",
			DeviceType: "tv",
			Status:     deviceflow.StatusPending,
			Interval:   5 * time.Second,
			ExpiresAt:  now.Add(10 * time.Minute),
			CreatedAt:  now,
		}
		require.NoError(t, repo.Create(ctx, ticket))
		return ticket
	}

	t.Run("check-and-set succeeds from the expected state", func(t *testing.T) {
		repo := deviceflow.NewInMemoryRepo()
		ticket := newTicket(t, repo)

		updated, err := repo.UpdateStatus(ctx, ticket.DeviceCode, deviceflow.StatusPending, deviceflow.StatusAuthorized, func(tk *deviceflow.Ticket) {
			tk.BoundUserID = "user-1"
		})
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusAuthorized, updated.Status)
		require.Equal(t, "user-1", updated.BoundUserID)
	})

	t.Run("conflict from the wrong state", func(t *testing.T) {
		repo := deviceflow.NewInMemoryRepo()
		ticket := newTicket(t, repo)

		_, err := repo.UpdateStatus(ctx, ticket.DeviceCode, deviceflow.StatusAuthorized, deviceflow.StatusConsumed, nil)
		require.ErrorIs(t, err, deviceflow.ErrStatusConflict)

		stored, err := repo.GetByDeviceCode(ctx, ticket.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusPending, stored.Status, "a failed CAS must not move the ticket")
	})

	t.Run("returned tickets are copies", func(t *testing.T) {
		repo := deviceflow.NewInMemoryRepo()
		ticket := newTicket(t, repo)

		got, err := repo.GetByDeviceCode(ctx, ticket.DeviceCode)
		require.NoError(t, err)
		got.Status = deviceflow.StatusConsumed

		again, err := repo.GetByDeviceCode(ctx, ticket.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusPending, again.Status)
	})
}
