package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	s := New(context.Background(), nil, []string{"276"}, 3, nil)

	require.NoError(t, s.Register("@every 1h"))
	require.NoError(t, s.Register("0 3 * * *"))
	assert.Error(t, s.Register("not a cron expression"))
}

func TestStartStop(t *testing.T) {
	s := New(context.Background(), nil, []string{"276"}, 3, nil)
	require.NoError(t, s.Register("@every 1h"))

	s.Start()
	s.Stop()
}
