package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartAsyncServesCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	CommandsSent.Add(1)

	resp, err := http.Get("http://" + addr.String() + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	for _, name := range []string{"commands_sent", "auth_flights", "stream_frames", "stream_reconnects"} {
		require.Contains(t, vars, name)
	}
}
