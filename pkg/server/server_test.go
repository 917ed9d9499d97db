package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/archive"
	"github.com/petrovska-petro/voting-onchain/pkg/auth"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
	"github.com/petrovska-petro/voting-onchain/pkg/processor"
	"github.com/petrovska-petro/voting-onchain/pkg/registry"
	"github.com/petrovska-petro/voting-onchain/pkg/relay"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
	"github.com/petrovska-petro/voting-onchain/pkg/store"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	identifier = "QmeKWbpinBwRSiLg7MbfycipUUE935faELRMYgdX2syWQV"
	commitment = "0xa7c69e60888cc7ec2fae6929e64eb5787f62c49a549237e9d5ff1549ad15be9a"

	proposalBody = `{"identifier":"` + identifier + `","deadline":1654810593,"choices":2,"kind":"single-choice"}`
	voteBody     = `{"proposal":"` + identifier + `","choice":2,"timestamp":1654551440,"version":"0.1.3","space":"cvx.eth","type":"vote"}`
	walletBody   = `{"wallet":"0x00000000000000000000000000000000000000aa"}`
)

var (
	secret = []byte("server-test-secret")

	governance = common.HexToAddress("0x0000000000000000000000000000000000000001")
	proposer   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	validator  = common.HexToAddress("0x0000000000000000000000000000000000000003")
	anyone     = common.HexToAddress("0x0000000000000000000000000000000000000004")
	moduleAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	signLib    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	safeAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type harness struct {
	t        *testing.T
	registry *registry.Registry
	proc     *processor.Processor
	journal  *ledger.Ledger
	safe     *wallet.MemorySafe
	regRoles store.RoleStore
	roles    *flakyRoles
	slo      *observability.SLOTracker
	handler  http.Handler
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return time.Unix(1654551440, 0) }

	h := &harness{
		t:        t,
		journal:  ledger.New(),
		regRoles: store.NewMemoryRoleStore(),
		roles:    &flakyRoles{RoleStore: store.NewMemoryRoleStore()},
	}
	h.registry = registry.New(governance, store.NewMemoryProposalStore(),
		registry.WithClock(clock), registry.WithJournal(h.journal), registry.WithRoleStore(h.regRoles))

	h.safe = wallet.NewMemorySafe(safeAddr, big.NewInt(1), signLib)
	require.NoError(t, h.safe.EnableModule(moduleAddr))
	network := wallet.NewNetwork(h.safe)

	var err error
	h.proc, err = processor.New(
		processor.Config{Module: moduleAddr, Governance: governance, SignMessageLib: signLib},
		processor.Deps{
			Registry:    h.registry,
			Submissions: store.NewMemorySubmissionStore(),
			Roles:       h.roles,
			Wallets:     network,
			Journal:     h.journal,
		},
		processor.WithClock(clock),
	)
	require.NoError(t, err)
	require.NoError(t, h.proc.AddProposer(ctx, governance, proposer))
	require.NoError(t, h.proc.AddValidator(ctx, governance, validator))

	files, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)

	obs, err := observability.New(ctx, observability.DefaultConfig())
	require.NoError(t, err)
	h.slo = observability.NewSLOTracker(observability.DefaultTargets()...)
	obs.WithSLO(h.slo)

	deps := Deps{
		Registry:      h.registry,
		Processor:     h.proc,
		Journal:       h.journal,
		Archive:       files,
		Wallets:       network,
		Observability: obs,
		Validator:     auth.NewJWTValidator(secret),
		Idempotency:   api.NewIdempotencyStore(time.Minute),
	}
	for _, o := range opts {
		o(&deps)
	}
	srv, err := New(deps)
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

// flakyRoles fails every save once broken is set.
type flakyRoles struct {
	store.RoleStore
	broken bool
}

func (f *flakyRoles) SaveRoles(ctx context.Context, scope string, roles contracts.Roles) error {
	if f.broken {
		return errors.New("role store unavailable")
	}
	return f.RoleStore.SaveRoles(ctx, scope, roles)
}

func (h *harness) token(addr common.Address) string {
	h.t.Helper()
	tok, err := auth.Issue(secret, addr, time.Hour, time.Now())
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path string, as *common.Address, body string, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(*as))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func problemCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p), w.Body.String())
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	return p.Code
}

func addr(a common.Address) *common.Address { return &a }

// approved drives identifier to the approved state through the API.
func (h *harness) approved() {
	h.t.Helper()
	require.Equal(h.t, http.StatusCreated, h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody).Code)
	require.Equal(h.t, http.StatusCreated, h.do(http.MethodPost, "/v1/votes", addr(proposer), voteBody).Code)
	require.Equal(h.t, http.StatusOK, h.do(http.MethodPost, "/v1/votes/"+identifier+"/verify", addr(validator), "").Code)
}

func TestVoteLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode(t, w)
	assert.Equal(t, contracts.ProposalID(identifier).Hex(), p["id"])
	assert.Equal(t, "single-choice", p["kind"])

	w = h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_proposal", problemCode(t, w))

	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), voteBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decode(t, w)
	assert.Equal(t, commitment, v["message_hash"])
	assert.Equal(t, string(contracts.StatusSubmitted), v["status"])

	w = h.do(http.MethodPost, "/v1/votes/"+identifier+"/sign", addr(anyone), walletBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_approved", problemCode(t, w))

	w = h.do(http.MethodPost, "/v1/votes/"+identifier+"/verify", addr(validator), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(contracts.StatusApproved), decode(t, w)["status"])

	w = h.do(http.MethodPost, "/v1/votes/"+identifier+"/sign", addr(anyone), walletBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, commitment, decode(t, w)["message_hash"])
	assert.True(t, h.safe.IsMessageSigned(common.HexToHash(commitment).Bytes()))

	w = h.do(http.MethodGet, "/v1/wallets/"+safeAddr.Hex(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["module_enabled"])

	assert.Equal(t, 2+4, h.journal.Len(), "two role grants then initiate, submit, verify, sign")
}

func TestVoteReads(t *testing.T) {
	h := newHarness(t)
	h.approved()

	w := h.do(http.MethodGet, "/v1/votes/"+identifier+"/hash", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, commitment, decode(t, w)["message_hash"])

	w = h.do(http.MethodGet, "/v1/votes/"+identifier+"/message", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, common.HexToHash(commitment), snapshot.HashMessage(w.Body.Bytes()), "served bytes hash to the commitment")

	w = h.do(http.MethodGet, "/v1/votes/"+identifier+"/choices", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	c := decode(t, w)
	assert.Equal(t, "scalar", c["kind"])
	assert.Equal(t, float64(2), c["choice"])

	w = h.do(http.MethodGet, "/v1/votes/QmUnknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_submission", problemCode(t, w))
}

func TestGetProposal_ByHashOrIdentifier(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody).Code)

	id := contracts.ProposalID(identifier).Hex()
	for _, ref := range []string{id, identifier} {
		w := h.do(http.MethodGet, "/v1/proposals/"+ref, nil, "")
		require.Equal(t, http.StatusOK, w.Code, ref)
		assert.Equal(t, id, decode(t, w)["id"])
	}

	w := h.do(http.MethodGet, "/v1/proposals", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = h.do(http.MethodGet, "/v1/proposals/QmMissing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "proposal_not_found", problemCode(t, w))
}

func TestInitiateProposal_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing reference", `{"deadline":1654810593,"choices":2}`, http.StatusBadRequest},
		{"both references", `{"identifier":"a","id":"0x01","deadline":1,"choices":2}`, http.StatusBadRequest},
		{"short id", `{"id":"0x01","deadline":1654810593,"choices":2}`, http.StatusBadRequest},
		{"unknown field", `{"identifier":"a","deadline":1,"choices":2,"extra":true}`, http.StatusBadRequest},
		{"unknown kind", `{"identifier":"a","deadline":1654810593,"choices":2,"kind":"approval"}`, http.StatusUnprocessableEntity},
		{"numeric kind", `{"identifier":"b","deadline":1654810593,"choices":2,"kind":1}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/v1/proposals", addr(governance), tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/proposals", nil, proposalBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")

	w = h.do(http.MethodPost, "/v1/proposals", nil, proposalBody, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/v1/proposals", addr(anyone), proposalBody)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", problemCode(t, w))

	w = h.do(http.MethodGet, "/v1/proposals", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "reads are public")
}

func TestSetVote_Rejections(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody).Code)

	w := h.do(http.MethodPost, "/v1/votes", addr(anyone), voteBody)
	assert.Equal(t, http.StatusForbidden, w.Code)

	bad := strings.Replace(voteBody, `"choice":2`, `"choice":1.5`, 1)
	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_choice", problemCode(t, w))

	outOfRange := strings.Replace(voteBody, `"choice":2`, `"choice":3`, 1)
	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), outOfRange)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	wrongHash := strings.Replace(voteBody, `"type":"vote"`, `"type":"vote","message_hash":"0x`+strings.Repeat("11", 32)+`"`, 1)
	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), wrongHash)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "hash_mismatch", problemCode(t, w))

	rightHash := strings.Replace(voteBody, `"type":"vote"`, `"type":"vote","message_hash":"`+commitment+`"`, 1)
	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), rightHash)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), `{"proposal":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoles(t *testing.T) {
	h := newHarness(t)
	path := "/v1/roles/proposers/" + anyone.Hex()

	w := h.do(http.MethodPut, path, addr(proposer), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPut, path, addr(governance), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/v1/roles/"+anyone.Hex(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["proposer"])

	w = h.do(http.MethodDelete, path, addr(governance), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.proc.IsProposer(anyone))

	w = h.do(http.MethodPut, "/v1/roles/admins/"+anyone.Hex(), addr(governance), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPut, "/v1/roles/validators/0x12", addr(governance), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/v1/roles", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["validators"], 1)
}

func TestPause(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody).Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/system/pause", addr(anyone), "").Code)
	w := h.do(http.MethodPost, "/v1/system/pause", addr(governance), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["paused"])

	w = h.do(http.MethodPost, "/v1/votes", addr(proposer), voteBody)
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "paused", problemCode(t, w))

	w = h.do(http.MethodGet, "/v1/system", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	sys := decode(t, w)
	assert.Equal(t, true, sys["paused"])
	assert.Equal(t, "20m0s", sys["verification_window"])
	assert.Equal(t, false, sys["relay_configured"])

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/system/unpause", addr(governance), "").Code)
	assert.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/votes", addr(proposer), voteBody).Code)
}

func TestGovernanceHandover(t *testing.T) {
	h := newHarness(t)
	next := common.HexToAddress("0x0000000000000000000000000000000000000009")
	body := `{"governance":"` + next.Hex() + `"}`

	w := h.do(http.MethodPost, "/v1/governance/accept", addr(next), "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_pending_governance", problemCode(t, w))

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/governance/transfer", addr(anyone), body).Code)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/governance/transfer", addr(governance), body).Code)
	assert.Equal(t, next, h.proc.PendingGovernance())

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/governance/accept", addr(anyone), "").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/governance/accept", addr(next), "").Code)

	assert.True(t, h.registry.IsGovernance(next))
	assert.True(t, h.proc.IsGovernance(next))
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody).Code)
	assert.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/proposals", addr(next), proposalBody).Code)
}

func TestGovernanceHandover_RevertsRegistryWhenProcessorFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	next := common.HexToAddress("0x0000000000000000000000000000000000000009")
	body := `{"governance":"` + next.Hex() + `"}`

	h.roles.broken = true
	w := h.do(http.MethodPost, "/v1/governance/transfer", addr(governance), body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, common.Address{}, h.registry.PendingGovernance())
	assert.Equal(t, common.Address{}, h.proc.PendingGovernance())
	saved, ok, err := h.regRoles.LoadRoles(ctx, store.ScopeRegistry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, common.Address{}, saved.PendingGovernance)

	h.roles.broken = false
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/governance/transfer", addr(governance), body).Code)

	h.roles.broken = true
	w = h.do(http.MethodPost, "/v1/governance/accept", addr(next), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, h.registry.IsGovernance(governance))
	assert.True(t, h.proc.IsGovernance(governance))
	assert.Equal(t, next, h.registry.PendingGovernance())
	saved, _, err = h.regRoles.LoadRoles(ctx, store.ScopeRegistry)
	require.NoError(t, err)
	assert.Equal(t, governance, saved.Governance)
	assert.Equal(t, next, saved.PendingGovernance)

	h.roles.broken = false
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/governance/accept", addr(next), "").Code)
	assert.True(t, h.registry.IsGovernance(next))
	assert.True(t, h.proc.IsGovernance(next))

	var reverted int
	for _, e := range h.journal.Entries() {
		if e.Kind == ledger.KindGovernanceReverted {
			reverted++
		}
	}
	assert.Equal(t, 2, reverted)
}

func TestJournalExportAndArchive(t *testing.T) {
	h := newHarness(t)
	h.approved()

	w := h.do(http.MethodGet, "/v1/journal?after=2&limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Equal(t, float64(5), page["total"])
	require.Len(t, page["entries"], 2)
	first := page["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, string(ledger.KindProposalInitiated), first["kind"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/journal?limit=0", nil, "").Code)

	w = h.do(http.MethodGet, "/v1/journal/verify", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/journal/export", addr(proposer), "").Code)
	w = h.do(http.MethodPost, "/v1/journal/export", addr(governance), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	receipt := decode(t, w)
	key, _ := receipt["key"].(string)
	assert.True(t, strings.HasPrefix(key, "sha256:"))
	assert.Equal(t, h.journal.Head(), receipt["head"])

	w = h.do(http.MethodGet, "/v1/journal/archive/"+key, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	restored := ledger.New()
	require.NoError(t, restored.Import(w.Body.Bytes()))
	assert.Equal(t, h.journal.Head(), restored.Head())

	w = h.do(http.MethodGet, "/v1/journal/archive/sha256:"+strings.Repeat("0", 64), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(http.MethodGet, "/v1/journal/archive/md5:abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_archive_key", problemCode(t, w))
}

func TestArchiveNotConfigured(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Archive = nil })
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodPost, "/v1/journal/export", addr(governance), "").Code)
}

func TestRelay(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		h.approved()
		w := h.do(http.MethodPost, "/v1/votes/"+identifier+"/relay", addr(anyone), walletBody)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	relayWith := func(t *testing.T, id string) *harness {
		t.Helper()
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":"` + id + `"}`))
		}))
		t.Cleanup(upstream.Close)

		h := newHarness(t, func(d *Deps) {
			d.Relayer = &relay.Relayer{Source: d.Processor, Signer: d.Processor, Sender: relay.NewClient(upstream.URL, 0)}
		})
		h.approved()
		return h
	}

	t.Run("matching id", func(t *testing.T) {
		h := relayWith(t, commitment)
		w := h.do(http.MethodPost, "/v1/votes/"+identifier+"/relay", addr(anyone), walletBody)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, commitment, decode(t, w)["relay_id"])
	})

	t.Run("mismatched id", func(t *testing.T) {
		h := relayWith(t, "0x"+strings.Repeat("ab", 32))
		w := h.do(http.MethodPost, "/v1/votes/"+identifier+"/relay", addr(anyone), walletBody)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "relay_identifier_mismatch", problemCode(t, w))
	})
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t)

	first := h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody, api.IdempotencyKeyHeader, "create-1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody, api.IdempotencyKeyHeader, "create-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := h.do(http.MethodPost, "/v1/proposals", addr(governance), proposalBody, api.IdempotencyKeyHeader, "create-2")
	assert.Equal(t, http.StatusConflict, third.Code, "a new key runs the handler")
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Limiter = api.NewGlobalRateLimiter(0.001, 1) })
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/roles", nil, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/v1/roles", nil, "").Code)
}

func TestRequestIDInProblems(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/v1/proposals/QmMissing", nil, "", api.RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", w.Header().Get(api.RequestIDHeader))

	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "req-42", p.TraceID)
	assert.Equal(t, "/v1/proposals/QmMissing", p.Instance)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	down := newHarness(t, func(d *Deps) {
		d.Health = func(context.Context) error { return errors.New("database unreachable") }
	})
	w = down.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "database unreachable", decode(t, w)["error"])
}

func TestSLOReport(t *testing.T) {
	h := newHarness(t)
	h.approved()
	h.do(http.MethodPost, "/v1/votes", addr(anyone), voteBody)

	w := h.do(http.MethodGet, "/v1/system/slo", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var report struct {
		SLO []observability.SLOStatus `json:"slo"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	byOp := map[string]observability.SLOStatus{}
	for _, s := range report.SLO {
		byOp[s.Operation] = s
	}
	require.Contains(t, byOp, "vote.set")
	assert.Equal(t, 2, byOp["vote.set"].ObservationCount)
	assert.Equal(t, 1.0, byOp["vote.set"].CurrentSuccess, "rejections do not burn budget")
}

func TestNew_RequiresCore(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
