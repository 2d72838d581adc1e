package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/territory/internal/auth"
)

var testAuth = auth.Config{Secret: "test-secret"}

func newTestServer(t *testing.T, f *fixture, opts ...HandlerOption) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHandler(f.engine, testAuth, zerolog.New(zerolog.NewTestWriter(t)), opts...))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func issue(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.Issue(testAuth, subject, strings.ToUpper(subject), time.Hour)
	require.NoError(t, err)
	return token
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	body, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: body}))
}

func readEvent(t *testing.T, conn *websocket.Conn, event string, dst interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			if dst != nil {
				require.NoError(t, json.Unmarshal(env.Data, dst))
			}
			return
		}
	}
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	server := newTestServer(t, newFixture(t))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-jwt")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(server), header)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerAcceptsSubprotocolToken(t *testing.T) {
	server := newTestServer(t, newFixture(t))

	dialer := websocket.Dialer{Subprotocols: []string{auth.SubprotocolToken, issue(t, "alice")}}
	conn, resp, err := dialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, auth.SubprotocolToken, resp.Header.Get("Sec-WebSocket-Protocol"))
}

func TestHandlerServesWalkOverSocket(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	alice := dial(t, server, issue(t, "alice"))
	bob := dial(t, server, issue(t, "bob"))

	writeEvent(t, alice, EventJoinRoom, JoinRoomPayload{RoomID: f.roomA})
	var joined MemberEvent
	readEvent(t, alice, EventUserJoined, &joined)
	require.Equal(t, "alice", joined.UserID)
	require.Equal(t, "ALICE", joined.DisplayName)

	writeEvent(t, bob, EventJoinRoom, JoinRoomPayload{RoomID: f.roomA})
	readEvent(t, alice, EventUserJoined, &joined)
	require.Equal(t, "bob", joined.UserID)
	require.Equal(t, 2, joined.ParticipantsCount)

	for _, p := range [][2]float64{{37.5, 127.0}, {37.5, 127.001}, {37.501, 127.001}} {
		lat, lon := p[0], p[1]
		writeEvent(t, alice, EventWalkStart, WalkStartPayload{Latitude: &lat, Longitude: &lon})
		var update LocationUpdate
		readEvent(t, bob, EventLocationUpdate, &update)
		require.Equal(t, "alice", update.UserID)
	}

	writeEvent(t, alice, EventWalkEnd, WalkEndPayload{})
	var result WalkResult
	readEvent(t, alice, EventWalkResult, &result)
	require.True(t, result.OK)
	require.Equal(t, 3, result.PointsCount)
	require.Equal(t, "completed", result.Status)

	require.NoError(t, alice.Close())
	var gone MemberEvent
	readEvent(t, bob, EventUserDisconnected, &gone)
	require.Equal(t, "alice", gone.UserID)
	require.Equal(t, 1, gone.ParticipantsCount)
}

func TestHandlerRateLimitsEvents(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f, WithRateLimit(0.001, 1))
	conn := dial(t, server, issue(t, "alice"))

	writeEvent(t, conn, EventJoinRoom, JoinRoomPayload{RoomID: f.roomA})
	readEvent(t, conn, EventUserJoined, nil)

	writeEvent(t, conn, EventLeaveRoom, nil)
	var failure ErrorEvent
	readEvent(t, conn, EventError, &failure)
	require.Equal(t, msgTooManyEvents, failure.Message)
	require.Equal(t, 1, f.engine.Hub().Subscribers(f.roomA))
}
