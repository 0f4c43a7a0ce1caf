package providers

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/providers/adapters"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/smallbiznis/mediaforge/internal/providers/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCatalogBuildsAdapterOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	factory := mocks.NewMockAdapterFactory(ctrl)
	adapter := mocks.NewMockAdapter(ctrl)
	factory.EXPECT().Kind().Return("audio").AnyTimes()
	factory.EXPECT().NewAdapter(gomock.Any()).DoAndReturn(func(cfg providerdomain.AdapterConfig) (providerdomain.Adapter, error) {
		assert.Equal(t, "https://api.example.com/webhooks/generation/song", cfg.CallbackURL)
		assert.Equal(t, "song", cfg.ProviderType)
		return adapter, nil
	}).Times(1)

	holder, err := config.NewStaticProvidersConfig(config.ProvidersConfig{
		Providers: map[string]config.ProviderSettings{
			"Song": {Kind: "audio", Endpoint: "http://provider", ConcurrencyLimit: 1},
		},
	})
	require.NoError(t, err)

	catalog := NewCatalog(config.Config{PublicBaseURL: "https://api.example.com/"}, holder, adapters.NewRegistry(factory), zap.NewNop())

	first, settings, err := catalog.Resolve("song")
	require.NoError(t, err)
	assert.Same(t, adapter, first)
	assert.Equal(t, config.DispatchModeQueued, settings.Mode)

	second, _, err := catalog.Resolve(" SONG ")
	require.NoError(t, err)
	assert.Same(t, adapter, second)

	_, _, err = catalog.Resolve("unknown")
	assert.ErrorIs(t, err, providerdomain.ErrUnknownProvider)
	assert.Equal(t, []string{"song"}, catalog.ProviderTypes())
}
