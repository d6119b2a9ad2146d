package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/store"
)

func TestOpenStore_Memory(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "memory"

	st, err := openStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "mysql"

	st, err := openStore(context.Background(), c)
	assert.Error(t, err)
	assert.Nil(t, st)
	assert.Contains(t, err.Error(), "mysql")
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"serve", "migrate", "estimate", "search", "analyze", "export"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSearchRequest_FromFlags(t *testing.T) {
	searchLocation, searchRadius, searchLimit, searchStrategy = "Madrid", 1500, 40, "fresh"
	t.Cleanup(func() { searchLocation, searchRadius, searchLimit, searchStrategy = "", 2000, 0, "cache_first" })

	req := searchRequest([]string{"peluquería"})
	assert.Equal(t, "peluquería", req.Query)
	assert.Equal(t, "Madrid", req.Location)
	assert.InDelta(t, 1500, req.Radius, 0)
	assert.Equal(t, 40, req.Limit)
	assert.Equal(t, "fresh", req.Strategy)
}
