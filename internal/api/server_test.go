package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/access"
	"github.com/paddock/race-engine/internal/engine"
	"github.com/paddock/race-engine/internal/ledger"
	"github.com/paddock/race-engine/internal/model"
	"github.com/paddock/race-engine/internal/sig"
	"github.com/paddock/race-engine/internal/store"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type apiEnv struct {
	t         *testing.T
	srv       *httptest.Server
	signerKey *btcec.PrivateKey
	operator  model.Address
	treasury  model.Address
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	key, err := sig.GenerateKey()
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}

	operator := model.Address{0xaa}
	treasury := model.Address{0x77}
	eng := engine.New(store.NewMemoryStore(), ledger.NewMemoryBook(), access.NewGuard(operator), engine.Config{
		TrustedSigner: sig.Address(key),
		Escrow:        model.Address{0xee},
		Treasury:      treasury,
	}, nil)

	r := chi.NewRouter()
	NewServer(eng).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiEnv{t: t, srv: srv, signerKey: key, operator: operator, treasury: treasury}
}

// do sends body as JSON and decodes the response into out (when non-nil),
// returning the status code.
func (e *apiEnv) do(method, path string, body, out any) int {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *apiEnv) want(status int, method, path string, body any) {
	e.t.Helper()
	if got := e.do(method, path, body, nil); got != status {
		e.t.Errorf("%s %s: status %d, want %d", method, path, got, status)
	}
}

func (e *apiEnv) betSignature(player model.Address, raceID uint64, amount decimal.Decimal) string {
	e.t.Helper()
	s, err := sig.Sign(e.signerKey, sig.BetDigest(player, raceID, amount))
	if err != nil {
		e.t.Fatalf("sign bet: %v", err)
	}
	return hex.EncodeToString(s)
}

func (e *apiEnv) revokeSignature(player model.Address, raceID uint64) string {
	e.t.Helper()
	s, err := sig.Sign(e.signerKey, sig.RevokeDigest(player, raceID))
	if err != nil {
		e.t.Fatalf("sign revoke: %v", err)
	}
	return hex.EncodeToString(s)
}

// seedRace sets up a scheme and a race over HTTP.
func (e *apiEnv) seedRace(raceID uint64, bet int64, players int, multipliers ...int64) {
	e.t.Helper()
	mults := make([]decimal.Decimal, len(multipliers))
	for i, m := range multipliers {
		mults[i] = d(m)
	}
	e.want(http.StatusCreated, "POST", "/schemes", SetSchemeRequest{
		Operator: e.operator, ID: 1, PlayersCount: players, Multipliers: mults,
	})
	e.want(http.StatusCreated, "POST", "/races", CreateRaceRequest{
		Operator: e.operator, ID: raceID, BetAmount: d(bet), Duration: 60, SchemeID: 1,
	})
}

func (e *apiEnv) credit(addr model.Address, amount int64) {
	e.t.Helper()
	e.want(http.StatusOK, "POST", "/accounts/"+addr.Hex()+"/credit", CreditRequest{
		Operator: e.operator, Amount: d(amount),
	})
}

func (e *apiEnv) balance(addr model.Address) string {
	e.t.Helper()
	var resp map[string]string
	if got := e.do("GET", "/accounts/"+addr.Hex()+"/balance", nil, &resp); got != http.StatusOK {
		e.t.Fatalf("balance of %s: status %d", addr, got)
	}
	return resp["balance"]
}

func TestAPI_FullRaceLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	winner := model.Address{0x01}
	loser := model.Address{0x02}

	env.seedRace(7, 10, 2, 150)
	env.credit(winner, 10)
	env.credit(loser, 10)

	for _, p := range []model.Address{winner, loser} {
		env.want(http.StatusCreated, "POST", "/races/7/bets", BetRequest{
			Player: p, Amount: d(10), Signature: env.betSignature(p, 7, d(10)),
		})
	}
	env.want(http.StatusOK, "POST", "/races/7/start", StartRequest{Operator: env.operator, StartTime: 1000})

	var finish map[string]any
	status := env.do("POST", "/races/7/finish", FinishRequest{
		Operator: env.operator, EndTime: 1060, Winners: []model.Address{winner},
	}, &finish)
	if status != http.StatusOK {
		t.Fatalf("finish: status %d", status)
	}
	if finish["pot"] != "20" || finish["paid"] != "15" || finish["commission"] != "5" {
		t.Errorf("finish response = %v", finish)
	}

	if got := env.balance(winner); got != "15" {
		t.Errorf("winner balance = %s, want 15", got)
	}
	if got := env.balance(env.treasury); got != "5" {
		t.Errorf("treasury balance = %s, want 5", got)
	}

	var race model.Race
	if status := env.do("GET", "/races/7", nil, &race); status != http.StatusOK {
		t.Fatalf("get race: status %d", status)
	}
	if !race.Started || !race.Finished || race.PlayersAssigned != 2 {
		t.Errorf("race state = %+v", race)
	}
}

func TestAPI_CancelAndRefund(t *testing.T) {
	env := newAPIEnv(t)
	player := model.Address{0x01}

	env.seedRace(7, 25, 3, 200)
	env.credit(player, 25)
	env.want(http.StatusCreated, "POST", "/races/7/bets", BetRequest{
		Player: player, Amount: d(25), Signature: env.betSignature(player, 7, d(25)),
	})

	// Under-subscribed: start conflicts, cancel succeeds.
	env.want(http.StatusConflict, "POST", "/races/7/start", StartRequest{Operator: env.operator, StartTime: 1000})
	env.want(http.StatusOK, "POST", "/races/7/cancel", CancelRequest{Operator: env.operator})

	env.want(http.StatusOK, "POST", "/races/7/revocations", RevokeRequest{
		Player: player, Signature: env.revokeSignature(player, 7),
	})
	if got := env.balance(player); got != "25" {
		t.Errorf("refunded balance = %s, want 25", got)
	}

	// Second refund for the same player conflicts.
	env.want(http.StatusConflict, "POST", "/races/7/revocations", RevokeRequest{
		Player: player, Signature: env.revokeSignature(player, 7),
	})
}

func TestAPI_StatusMapping(t *testing.T) {
	env := newAPIEnv(t)
	player := model.Address{0x01}
	outsider := model.Address{0xbb}

	env.seedRace(7, 10, 2, 150)

	// Unknown resources.
	env.want(http.StatusNotFound, "GET", "/races/99", nil)
	env.want(http.StatusNotFound, "GET", "/schemes/99", nil)
	env.want(http.StatusNotFound, "GET", "/races/7/rewards/5", nil)

	// Role and signature failures.
	env.want(http.StatusForbidden, "POST", "/races", CreateRaceRequest{
		Operator: outsider, ID: 8, BetAmount: d(10), Duration: 60, SchemeID: 1,
	})
	stranger, _ := sig.GenerateKey()
	forged, _ := sig.Sign(stranger, sig.BetDigest(player, 7, d(10)))
	env.want(http.StatusUnauthorized, "POST", "/races/7/bets", BetRequest{
		Player: player, Amount: d(10), Signature: hex.EncodeToString(forged),
	})

	// An unfunded but authorized bet is a payment failure.
	env.want(http.StatusPaymentRequired, "POST", "/races/7/bets", BetRequest{
		Player: player, Amount: d(10), Signature: env.betSignature(player, 7, d(10)),
	})

	// Reusing a race id conflicts.
	env.want(http.StatusConflict, "POST", "/races", CreateRaceRequest{
		Operator: env.operator, ID: 7, BetAmount: d(10), Duration: 60, SchemeID: 1,
	})

	// Malformed inputs.
	env.want(http.StatusBadRequest, "GET", "/races/notanumber", nil)
	env.want(http.StatusBadRequest, "GET", "/accounts/nothex/balance", nil)
	env.want(http.StatusBadRequest, "POST", "/races/7/bets", BetRequest{
		Player: player, Amount: d(10), Signature: "zz-not-hex",
	})

	req, _ := http.NewRequest("POST", env.srv.URL+"/races", bytes.NewBufferString("{broken"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("broken body request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("broken body: status %d, want 400", resp.StatusCode)
	}
}

func TestAPI_ListAndRewardEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRace(7, 10, 3, 150, 120)

	var schemes []model.Scheme
	if status := env.do("GET", "/schemes", nil, &schemes); status != http.StatusOK {
		t.Fatalf("list schemes: status %d", status)
	}
	if len(schemes) != 1 || schemes[0].ID != 1 {
		t.Errorf("schemes = %+v", schemes)
	}

	var races []model.Race
	if status := env.do("GET", "/races", nil, &races); status != http.StatusOK {
		t.Fatalf("list races: status %d", status)
	}
	if len(races) != 1 || races[0].ID != 7 {
		t.Errorf("races = %+v", races)
	}

	var reward model.Reward
	if status := env.do("GET", "/races/7/rewards/1", nil, &reward); status != http.StatusOK {
		t.Fatalf("race reward: status %d", status)
	}
	if reward.Place != 2 || !reward.Multiplier.Equal(d(120)) {
		t.Errorf("reward = %+v", reward)
	}
}

func TestAPI_Treasury(t *testing.T) {
	env := newAPIEnv(t)
	next := model.Address{0x99}

	var resp map[string]model.Address
	if status := env.do("GET", "/treasury", nil, &resp); status != http.StatusOK {
		t.Fatalf("get treasury: status %d", status)
	}
	if resp["address"] != env.treasury {
		t.Errorf("treasury = %s, want %s", resp["address"], env.treasury)
	}

	env.want(http.StatusForbidden, "PUT", "/treasury", TreasuryRequest{
		Operator: model.Address{0xbb}, Address: next,
	})
	env.want(http.StatusOK, "PUT", "/treasury", TreasuryRequest{
		Operator: env.operator, Address: next,
	})

	if status := env.do("GET", "/treasury", nil, &resp); status != http.StatusOK {
		t.Fatalf("get treasury: status %d", status)
	}
	if resp["address"] != next {
		t.Errorf("treasury after update = %s, want %s", resp["address"], next)
	}
}

func TestAPI_ConcurrentBetsRespectQuota(t *testing.T) {
	env := newAPIEnv(t)
	const seats = 4
	env.seedRace(7, 10, seats, 150)

	players := make([]model.Address, seats*2)
	for i := range players {
		players[i] = model.Address{byte(i + 1)}
		env.credit(players[i], 10)
	}

	statuses := make(chan int, len(players))
	url := fmt.Sprintf("%s/races/%d/bets", env.srv.URL, 7)
	for _, p := range players {
		body, err := json.Marshal(BetRequest{
			Player: p, Amount: d(10), Signature: env.betSignature(p, 7, d(10)),
		})
		if err != nil {
			t.Fatalf("marshal bet: %v", err)
		}
		go func(body []byte) {
			resp, err := http.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}(body)
	}

	var accepted, rejected int
	for range players {
		switch <-statuses {
		case http.StatusCreated:
			accepted++
		case http.StatusConflict:
			rejected++
		default:
			rejected++
		}
	}
	if accepted != seats {
		t.Errorf("accepted %d bets, want %d", accepted, seats)
	}

	var race model.Race
	env.do("GET", "/races/7", nil, &race)
	if race.PlayersAssigned != seats {
		t.Errorf("players assigned = %d, want %d", race.PlayersAssigned, seats)
	}
}
