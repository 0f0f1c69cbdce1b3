package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/allocation"
	"github.com/example/food-rescue/internal/auth"
	"github.com/example/food-rescue/internal/config"
	"github.com/example/food-rescue/internal/dispatch"
	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/matcher"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/places"
	"github.com/example/food-rescue/internal/storage"
)

type testEnv struct {
	srv   *httptest.Server
	auth  *auth.Service
	pool  *geo.Index
	wsreg *dispatch.WSRegistry
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }

	alloc := allocation.NewService(storage.NewMemoryStore(), nil)
	alloc.Now = clock
	pool := geo.NewIndex()
	m := &matcher.Service{Pool: pool, Config: matcher.NewConfig(config.DefaultMatching()), Now: clock}
	a := auth.New("test-key", "food-rescue")
	reg := dispatch.NewWSRegistry(nil)

	s := NewServer(Deps{
		Alloc:     alloc,
		Matcher:   m,
		Places:    places.NewFinder(nil, time.Minute, nil),
		Auth:      a,
		WSReg:     reg,
		Claimants: []ClaimantSink{pool},
	}, nil)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, auth: a, pool: pool, wsreg: reg, now: now}
}

func (e *testEnv) token(t *testing.T, id string, role allocation.Role) string {
	t.Helper()
	tok, err := e.auth.GenerateToken(id, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	code, _ := e.do(t, http.MethodPut, "/internal/suppliers/sup-1", "", models.Supplier{Name: "Corner Bistro", Loc: models.Coord{Lat: 51.5, Lon: -0.12}})
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPut, "/internal/claimants/ngo-1", "", models.Claimant{Name: "Shelter", Capacity: 40, Loc: models.Coord{Lat: 51.51, Lon: -0.12}, Phone: "+440000"})
	require.Equal(t, http.StatusOK, code)
}

func (e *testEnv) createListing(t *testing.T, tok string) models.Listing {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/v1/listings", tok, allocation.ListingInput{
		FoodName:  "Vegetable biryani",
		Category:  "cooked",
		Quantity:  20,
		ExpiresAt: e.now.Add(3 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var l models.Listing
	require.NoError(t, json.Unmarshal(body, &l))
	return l
}

func TestRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, http.MethodGet, "/api/v1/listings", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, string(body), "unauthenticated")

	code, _ = e.do(t, http.MethodGet, "/api/v1/listings", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "ok")
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	supTok := e.token(t, "sup-1", allocation.RoleSupplier)
	ngoTok := e.token(t, "ngo-1", allocation.RoleClaimant)

	l := e.createListing(t, supTok)
	require.Equal(t, models.ListingAvailable, l.Status)

	code, body := e.do(t, http.MethodPost, "/api/v1/claims", ngoTok, allocation.ClaimInput{
		ListingID:  l.ID,
		Quantity:   5,
		PickupTime: e.now.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var c models.ClaimRequest
	require.NoError(t, json.Unmarshal(body, &c))
	require.Equal(t, models.ClaimPending, c.Status)

	// only the supplier can approve
	code, _ = e.do(t, http.MethodPost, "/api/v1/claims/"+c.ID+"/approve", ngoTok, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, body = e.do(t, http.MethodPost, "/api/v1/claims/"+c.ID+"/approve", supTok, map[string]string{"response": "see you at 7"})
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &c))
	require.Equal(t, models.ClaimApproved, c.Status)

	code, body = e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID, supTok, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &l))
	require.Equal(t, 15, l.Quantity)

	code, _ = e.do(t, http.MethodPost, "/api/v1/claims/"+c.ID+"/collect", ngoTok, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = e.do(t, http.MethodPost, "/api/v1/claims/"+c.ID+"/complete", ngoTok, map[string]any{"rating": 5})
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &c))
	require.Equal(t, models.ClaimCompleted, c.Status)

	// terminal claims cannot be cancelled
	code, body = e.do(t, http.MethodPost, "/api/v1/claims/"+c.ID+"/cancel", ngoTok, nil)
	require.Equal(t, http.StatusUnprocessableEntity, code, string(body))

	code, body = e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID+"/claims", supTok, nil)
	require.Equal(t, http.StatusOK, code)
	var cs []models.ClaimRequest
	require.NoError(t, json.Unmarshal(body, &cs))
	require.Len(t, cs, 1)
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	supTok := e.token(t, "sup-1", allocation.RoleSupplier)
	ngoTok := e.token(t, "ngo-1", allocation.RoleClaimant)

	code, body := e.do(t, http.MethodPost, "/api/v1/listings", supTok, allocation.ListingInput{FoodName: "", Quantity: 0, ExpiresAt: e.now.Add(time.Hour)})
	require.Equal(t, http.StatusBadRequest, code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	require.Equal(t, "invalid_argument", eb.Error)
	require.ElementsMatch(t, []string{"food_name", "quantity"}, eb.Fields)

	code, _ = e.do(t, http.MethodGet, "/api/v1/listings/nope", supTok, nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/listings?status=BOGUS", supTok, nil)
	require.Equal(t, http.StatusBadRequest, code)

	l := e.createListing(t, supTok)
	in := allocation.ClaimInput{ListingID: l.ID, Quantity: 3, PickupTime: e.now.Add(time.Hour)}
	code, _ = e.do(t, http.MethodPost, "/api/v1/claims", ngoTok, in)
	require.Equal(t, http.StatusCreated, code)
	code, body = e.do(t, http.MethodPost, "/api/v1/claims", ngoTok, in)
	require.Equal(t, http.StatusConflict, code, string(body))

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/claims", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ngoTok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCandidatesOwnerOnly(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	supTok := e.token(t, "sup-1", allocation.RoleSupplier)
	l := e.createListing(t, supTok)

	code, body := e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID+"/candidates?limit=5", supTok, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var cands []models.MatchCandidate
	require.NoError(t, json.Unmarshal(body, &cands))
	require.Len(t, cands, 1)
	require.Equal(t, "ngo-1", cands[0].Claimant.ID)

	other := e.token(t, "sup-2", allocation.RoleSupplier)
	code, _ = e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID+"/candidates", other, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID+"/candidates?limit=-1", supTok, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodGet, "/api/v1/listings/"+l.ID+"/nearby-places", supTok, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, "[]", string(body))
}

func TestUpsertClaimantFeedsPool(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	got, err := e.pool.WithinRadius(context.Background(), 51.5, -0.12, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	code, _ := e.do(t, http.MethodPut, "/internal/claimants/bad", "", models.Claimant{Name: "x", Capacity: 1, Loc: models.Coord{Lat: 123, Lon: 0}})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestWebsocketAuth(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/ngo-1"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+e.token(t, "ngo-2", allocation.RoleClaimant), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+e.token(t, "ngo-1", allocation.RoleClaimant), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.wsreg.Connected("ngo-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, e.wsreg.Offer("ngo-1", dispatch.Notice{Type: "offer", Message: "hello"}))
	var n dispatch.Notice
	require.NoError(t, conn.ReadJSON(&n))
	require.Equal(t, "hello", n.Message)
}
