package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chess-arena/internal/challenge"
	"chess-arena/internal/invite"
	"chess-arena/internal/matchmaking"
	"chess-arena/internal/middleware"
	"chess-arena/internal/rating"
	"chess-arena/internal/registry"
	"chess-arena/internal/session"
	"chess-arena/internal/storage"
)

const (
	testInviteCode  = "open-sesame"
	testAdminSecret = "test-admin-secret"
)

type apiFixture struct {
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := zerolog.Nop()
	store := storage.NewMemory()

	reg := registry.New(store, log)
	t.Cleanup(reg.Close)

	ratings := rating.New(store, log)
	t.Cleanup(ratings.Close)

	sessions := session.NewManager(store, reg, ratings, log)
	t.Cleanup(sessions.Close)

	queue := matchmaking.New(store, reg, sessions, log)
	t.Cleanup(queue.Close)

	challenges := challenge.New(store, queue, log)
	t.Cleanup(challenges.Close)

	limiter := middleware.NewRateLimiter()
	t.Cleanup(limiter.Stop)

	router := NewRouter(Deps{
		Registry:   reg,
		Queue:      queue,
		Sessions:   sessions,
		Ratings:    ratings,
		Challenges: challenges,
		Invites:    invite.NewValidator("test-invite-secret", testInviteCode),
		Admin:      middleware.NewAdminAuth(testAdminSecret),
		Limiter:    limiter,
	})
	return &apiFixture{router: router}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if len(rec.Body.Bytes()) > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

// register returns the agent token and assigned name.
func (f *apiFixture) register(t *testing.T, name string) (string, string) {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/api/register", map[string]string{
		"inviteCode": testInviteCode,
		"agentName":  name,
	})
	require.Equal(t, http.StatusOK, code)
	return body["agentToken"].(string), body["name"].(string)
}

// startGame registers two agents and pairs them through the queue,
// returning (gameId, whiteToken, blackToken).
func (f *apiFixture) startGame(t *testing.T) (string, string, string) {
	t.Helper()

	tokenA, _ := f.register(t, "Aster")
	tokenB, _ := f.register(t, "Birch")

	code, body := f.do(t, http.MethodPost, "/api/queue/join", map[string]string{
		"inviteCode": testInviteCode, "agentToken": tokenA, "timeControl": "3+2",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "waiting", body["status"])

	code, body = f.do(t, http.MethodPost, "/api/queue/join", map[string]string{
		"inviteCode": testInviteCode, "agentToken": tokenB, "timeControl": "3+2",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "matched", body["status"])
	gameID := body["gameId"].(string)

	// Colors are coin-flipped; sort the tokens out from the game view.
	code, body = f.do(t, http.MethodGet, "/api/game/"+gameID, nil)
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]interface{})
	white := game["white"].(map[string]interface{})

	code, status := f.do(t, http.MethodGet, "/api/queue/status?agentToken="+tokenA, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, gameID, status["gameId"])

	code, hb := f.do(t, http.MethodPost, "/api/heartbeat", map[string]string{"agentToken": tokenA})
	require.Equal(t, http.StatusOK, code)
	if hb["agentId"] == white["agentId"] {
		return gameID, tokenA, tokenB
	}
	return gameID, tokenB, tokenA
}

func (f *apiFixture) move(t *testing.T, gameID, token, mv string) (int, map[string]interface{}) {
	t.Helper()
	return f.do(t, http.MethodPost, "/api/game/"+gameID+"/move", map[string]string{
		"inviteCode": testInviteCode, "agentToken": token, "move": mv,
	})
}

func TestRegisterRejectsBadInvite(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/register", map[string]string{
		"inviteCode": "wrong", "agentName": "Mallory",
	})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "invalid_invite", body["error"])
}

func TestRegisterGeneratesNameWhenBlank(t *testing.T) {
	f := newAPIFixture(t)
	_, name := f.register(t, "")
	require.NotEmpty(t, name)
}

func TestHeartbeatUnknownToken(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/heartbeat", map[string]string{"agentToken": "agt_nope"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unknown_token", body["error"])
}

func TestQueueJoinRejectsUnsupportedTimeControl(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.register(t, "Clock")

	code, body := f.do(t, http.MethodPost, "/api/queue/join", map[string]string{
		"inviteCode": testInviteCode, "agentToken": token, "timeControl": "5+0",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad_request", body["error"])
}

func TestBasicGameFlow(t *testing.T) {
	f := newAPIFixture(t)
	gameID, whiteToken, _ := f.startGame(t)

	code, body := f.move(t, gameID, whiteToken, "e2e4")
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]interface{})
	require.Equal(t, "b", game["turn"])
	require.Equal(t, float64(1), game["moveCount"])
	require.Equal(t, "e2e4", game["lastMove"])
	require.Equal(t, "active", game["status"])
}

func TestIllegalMoveLeavesGameUntouched(t *testing.T) {
	f := newAPIFixture(t)
	gameID, whiteToken, _ := f.startGame(t)

	code, body := f.move(t, gameID, whiteToken, "e2e5")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "illegal_move", body["error"])

	code, body = f.do(t, http.MethodGet, "/api/game/"+gameID, nil)
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]interface{})
	require.Equal(t, float64(0), game["moveCount"])
	require.Equal(t, "w", game["turn"])
}

func TestMalformedMove(t *testing.T) {
	f := newAPIFixture(t)
	gameID, whiteToken, _ := f.startGame(t)

	code, body := f.move(t, gameID, whiteToken, "knight takes e5")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "malformed_move", body["error"])
}

func TestMoveOutOfTurn(t *testing.T) {
	f := newAPIFixture(t)
	gameID, _, blackToken := f.startGame(t)

	code, body := f.move(t, gameID, blackToken, "e7e5")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "not_your_turn", body["error"])
	// The conflict envelope carries the current turn for resync.
	require.Equal(t, "w", body["turn"])
}

func TestMoveByNonParticipant(t *testing.T) {
	f := newAPIFixture(t)
	gameID, _, _ := f.startGame(t)
	outsider, _ := f.register(t, "Cedar")

	code, body := f.move(t, gameID, outsider, "e2e4")
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "not_participant", body["error"])
}

func TestResignationEndsGame(t *testing.T) {
	f := newAPIFixture(t)
	gameID, whiteToken, blackToken := f.startGame(t)

	code, body := f.do(t, http.MethodPost, "/api/game/"+gameID+"/move", map[string]string{
		"inviteCode": testInviteCode, "agentToken": whiteToken, "action": "resign",
	})
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]interface{})
	require.Equal(t, "resigned", game["status"])
	require.Equal(t, "0-1", game["result"])

	// Any further move is a conflict carrying the settled status.
	code, body = f.move(t, gameID, blackToken, "e7e5")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "game_not_active", body["error"])
	require.Equal(t, "resigned", body["status"])
}

func TestUnknownGame(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/game/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", body["error"])
}

func TestLeaderboardAfterResignation(t *testing.T) {
	f := newAPIFixture(t)
	gameID, whiteToken, _ := f.startGame(t)

	code, _ := f.do(t, http.MethodPost, "/api/game/"+gameID+"/move", map[string]string{
		"inviteCode": testInviteCode, "agentToken": whiteToken, "action": "resign",
	})
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "all", body["scope"])
	players := body["players"].([]interface{})
	require.Len(t, players, 2)

	top := players[0].(map[string]interface{})
	require.Greater(t, top["rating"].(float64), 1500.0)

	code, body = f.do(t, http.MethodGet, "/api/leaderboard?scope=7d", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "7d", body["scope"])
	require.Equal(t, float64(1), body["gamesInWindow"])

	code, body = f.do(t, http.MethodGet, "/api/leaderboard?scope=season", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, false, body["success"])
}

func TestActiveGamesListing(t *testing.T) {
	f := newAPIFixture(t)
	gameID, _, _ := f.startGame(t)

	code, body := f.do(t, http.MethodGet, "/api/games/active", nil)
	require.Equal(t, http.StatusOK, code)
	games := body["games"].([]interface{})
	require.Len(t, games, 1)
	require.Equal(t, gameID, games[0].(map[string]interface{})["gameId"])
}

func TestChallengeRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	creator, _ := f.register(t, "Dahlia")
	acceptor, _ := f.register(t, "Elm")

	code, body := f.do(t, http.MethodPost, "/api/challenge/create", map[string]string{"agentToken": creator})
	require.Equal(t, http.StatusOK, code)
	challengeID := body["challengeId"].(string)
	require.NotEmpty(t, challengeID)

	// Self-accept is rejected.
	code, body = f.do(t, http.MethodPost, "/api/challenge/accept", map[string]string{
		"agentToken": creator, "challengeId": challengeID,
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/api/challenge/accept", map[string]string{
		"agentToken": acceptor, "challengeId": challengeID,
	})
	require.Equal(t, http.StatusOK, code)
	gameID := body["gameId"].(string)
	require.NotEmpty(t, gameID)

	code, body = f.do(t, http.MethodGet, "/api/challenge?id="+challengeID, nil)
	require.Equal(t, http.StatusOK, code)
	ch := body["challenge"].(map[string]interface{})
	require.Equal(t, "accepted", ch["status"])
	require.Equal(t, gameID, ch["gameId"])

	// A second acceptor gets a conflict pointing at the existing game.
	third, _ := f.register(t, "Fern")
	code, body = f.do(t, http.MethodPost, "/api/challenge/accept", map[string]string{
		"agentToken": third, "challengeId": challengeID,
	})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, gameID, body["gameId"])

	code, _ = f.do(t, http.MethodGet, "/api/challenge?id=missing", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/register", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
	require.Equal(t, "method_not_allowed", body["error"])
}

func TestAdminReset(t *testing.T) {
	f := newAPIFixture(t)

	// No token: denied.
	code, _ := f.do(t, http.MethodPost, "/api/admin/reset", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	// Wrong secret: denied.
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodPost, "/api/admin/reset", nil, "Authorization", "Bearer "+badToken)
	require.Equal(t, http.StatusUnauthorized, code)

	// Valid token: ratings are wiped.
	gameID, whiteToken, _ := f.startGame(t)
	c, _ := f.do(t, http.MethodPost, "/api/game/"+gameID+"/move", map[string]string{
		"inviteCode": testInviteCode, "agentToken": whiteToken, "action": "resign",
	})
	require.Equal(t, http.StatusOK, c)

	goodToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	code, body := f.do(t, http.MethodPost, "/api/admin/reset", nil, "Authorization", "Bearer "+goodToken)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])

	code, body = f.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["players"])
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
