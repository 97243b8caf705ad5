package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const admin = "0xadmin"

type fakeIdentity map[string]bool

func (f fakeIdentity) IsRegistered(_ context.Context, addr string) (bool, error) {
	return f[addr], nil
}

func as(p string) context.Context {
	return auth.WithPrincipal(context.Background(), p)
}

func newTestService(t *testing.T) (*Service, *host.ManualClock) {
	t.Helper()
	clock := host.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(host.New(host.NewMemoryBackend(), host.WithClock(clock)), auth.ContextAuthorizer{})
	require.NoError(t, svc.Init(as(admin), admin))
	return svc, clock
}

func shop(id string) RegisterRequest {
	return RegisterRequest{MerchantID: id, Name: "Shop " + id, SettlementAsset: "USDC", Vault: "0xvault"}
}

func TestInit_Once(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Init(as(admin), admin)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	ok, err := svc.Initialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInit_RequiresAdminAuth(t *testing.T) {
	svc := NewService(host.New(host.NewMemoryBackend()), auth.ContextAuthorizer{})
	err := svc.Init(as("0xmallory"), admin)
	assert.ErrorIs(t, err, auth.ErrNotAuthorized)

	ok, _ := svc.Initialized(context.Background())
	assert.False(t, ok)
}

func TestMerchantLifecycle(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := as(admin)

	m, err := svc.RegisterMerchant(ctx, shop("0xm1"))
	require.NoError(t, err)
	assert.True(t, m.Active)
	assert.False(t, m.HasFXRouter())
	assert.Equal(t, clock.Now(), m.CreatedAt)

	_, err = svc.RegisterMerchant(ctx, shop("0xm1"))
	assert.ErrorIs(t, err, ErrMerchantExists)

	clock.Advance(time.Minute)
	m, err = svc.SetActive(ctx, "0xm1", false)
	require.NoError(t, err)
	assert.False(t, m.Active)
	assert.Equal(t, clock.Now(), m.UpdatedAt)

	_, err = svc.SetFXRouter(ctx, "0xm1", "0xfx")
	require.NoError(t, err)
	_, err = svc.SetSettlementAsset(ctx, "0xm1", "EURC")
	require.NoError(t, err)

	got, err := svc.GetMerchant(context.Background(), "0xm1")
	require.NoError(t, err)
	assert.Equal(t, "0xfx", got.FXRouter)
	assert.Equal(t, "EURC", got.SettlementAsset)
	assert.False(t, got.Active)
}

func TestGetMerchant_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetMerchant(context.Background(), "0xnone")
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	_, err = svc.SetActive(as(admin), "0xnone", true)
	assert.ErrorIs(t, err, ErrMerchantNotFound)
}

func TestMutations_RequireAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RegisterMerchant(as(admin), shop("0xm1"))
	require.NoError(t, err)

	_, err = svc.RegisterMerchant(as("0xm2"), shop("0xm2"))
	assert.ErrorIs(t, err, auth.ErrNotAuthorized)

	_, err = svc.SetActive(as("0xm1"), "0xm1", false)
	assert.ErrorIs(t, err, auth.ErrNotAuthorized)

	got, err := svc.GetMerchant(context.Background(), "0xm1")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestRegisterMerchant_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RegisterMerchant(as(admin), RegisterRequest{MerchantID: "0xm1"})
	assert.ErrorIs(t, err, ErrInvalidMerchant)

	_, err = svc.SetSettlementAsset(as(admin), "0xm1", "")
	assert.ErrorIs(t, err, ErrInvalidMerchant)
}

func TestRegisterMerchant_BeforeInit(t *testing.T) {
	svc := NewService(host.New(host.NewMemoryBackend()), auth.ContextAuthorizer{})
	_, err := svc.RegisterMerchant(as(admin), shop("0xm1"))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRegisterMerchant_RequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithIdentity(fakeIdentity{"0xknown": true})

	_, err := svc.RegisterMerchant(as(admin), shop("0xunknown"))
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = svc.RegisterMerchant(as(admin), shop("0xknown"))
	assert.NoError(t, err)
}

func TestListMerchants_RegistrationOrder(t *testing.T) {
	svc, _ := newTestService(t)
	for _, id := range []string{"0xc", "0xa", "0xb"} {
		_, err := svc.RegisterMerchant(as(admin), shop(id))
		require.NoError(t, err)
	}

	list, err := svc.ListMerchants(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "0xc", list[0].MerchantID)
	assert.Equal(t, "0xb", list[2].MerchantID)
}
