package featureflags

import (
	"context"
	"testing"

	"habitcoin/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestWithoutAPIKeyEverythingIsOn(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.Enabled(context.Background(), "u1", Gifting))
	require.True(t, ff.Enabled(context.Background(), "u1", TaskRewards))
}
