package marketplace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/marketplace"
	"github.com/next-trace/scg-event-bus/topic"
)

func TestCatalog_HoldsEveryContext(t *testing.T) {
	c := marketplace.Catalog()

	assert.Equal(t, []string{
		"conversation", "enrollment", "family", "participation", "program", "provider", "user",
	}, c.Aggregates())
	assert.Contains(t, c.All(), "user:user_registered")
	assert.Contains(t, c.All(), "provider:provider_verified")

	agg, kind, err := c.Lookup("program:program_archived")
	require.NoError(t, err)
	assert.Equal(t, "program", agg)
	assert.Equal(t, "program_archived", kind)
}

func TestDeclare_Twice(t *testing.T) {
	c := topic.NewCatalog()
	require.NoError(t, marketplace.Declare(c))
	require.ErrorIs(t, marketplace.Declare(c), berr.ErrTopicExists)
}

func TestVocabulary_RejectsForeignKind(t *testing.T) {
	_, err := marketplace.Users.New(marketplace.ProviderVerified, "u-1", nil)
	require.ErrorIs(t, err, berr.ErrUnknownEventKind)

	evt, err := marketplace.Users.New(marketplace.UserRegistered, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "user:user_registered", evt.Topic())
}
