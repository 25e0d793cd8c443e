package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/otp"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/wallet"
	"ticket-ledger/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memTickets mimics the store's conditional updates under one mutex.
type memTickets struct {
	mu        sync.Mutex
	tickets   map[string]*models.Ticket
	createErr error
	soldErr   error
}

func newMemTickets() *memTickets {
	return &memTickets{tickets: map[string]*models.Ticket{}}
}

func (m *memTickets) put(t *models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ID] = &cp
}

func (m *memTickets) snapshot(id string) models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tickets[id]
}

func (m *memTickets) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, status.NotFound("ticket %s", id)
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) FindByNFTID(ctx context.Context, nftID string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.NFTID == nftID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, status.NotFound("ticket with token %s", nftID)
}

func (m *memTickets) ListTickets(ctx context.Context, f TicketFilter) ([]*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ticket
	for _, t := range m.tickets {
		if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
			continue
		}
		if f.BoughtBy != "" && t.BoughtBy != f.BoughtBy {
			continue
		}
		if f.Party != "" && t.CreatedBy != f.Party && t.BoughtBy != f.Party {
			continue
		}
		if f.UsedOnly && !t.Used {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTickets) CountEventTickets(ctx context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickets {
		if t.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (m *memTickets) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.NFTID == t.NFTID {
			return fmt.Errorf("nft_id %s already exists", t.NFTID)
		}
	}
	t.ID = uuid.NewString()
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *memTickets) UpdateMetadata(ctx context.Context, id string, extra map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Sold {
		return false, nil
	}
	t.Metadata.Extra = extra
	return true, nil
}

func (m *memTickets) DeleteUnsold(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Sold || t.ClaimedBy != "" {
		return false, nil
	}
	delete(m.tickets, id)
	return true, nil
}

func (m *memTickets) Claim(ctx context.Context, id, buyerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Sold || t.ClaimedBy != "" {
		return false, nil
	}
	t.ClaimedBy = buyerID
	return true, nil
}

func (m *memTickets) ReleaseClaim(ctx context.Context, id, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[id]; ok && !t.Sold && t.ClaimedBy == buyerID {
		t.ClaimedBy = ""
	}
	return nil
}

func (m *memTickets) MarkSold(ctx context.Context, id, buyerID, w string) (bool, error) {
	if m.soldErr != nil {
		return false, m.soldErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Sold || t.ClaimedBy != buyerID {
		return false, nil
	}
	t.Sold = true
	t.BoughtBy = buyerID
	t.WalletID = w
	t.ClaimedBy = ""
	return true, nil
}

func (m *memTickets) MarkUsed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || !t.Sold || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{users: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, status.NotFound("user %s", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) SetWalletIfEmpty(ctx context.Context, userID string, role models.Role, w *models.Wallet) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, status.NotFound("user %s", userID)
	}
	slot := &u.BuyerWallet
	if role == models.RoleSeller {
		slot = &u.SellerWallet
	}
	if (*slot).IsSet() {
		return false, nil
	}
	cp := *w
	*slot = &cp
	return true, nil
}

func (m *memUsers) SetRole(ctx context.Context, userID string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return status.NotFound("user %s", userID)
	}
	u.Role = role
	return nil
}

type memCatalog struct {
	events map[string]*models.Event
	venues map[string]*models.Venue
}

func (m *memCatalog) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, status.NotFound("event %s", id)
	}
	cp := *e
	return &cp, nil
}

func (m *memCatalog) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	v, ok := m.venues[id]
	if !ok {
		return nil, status.NotFound("venue %s", id)
	}
	cp := *v
	return &cp, nil
}

func (m *memCatalog) MarkEventExpired(ctx context.Context, id string) error {
	m.events[id].Expired = true
	return nil
}

func (m *memCatalog) SetEventVerifiers(ctx context.Context, id string, verifiers []string) error {
	m.events[id].Verifiers = verifiers
	return nil
}

type memIntents struct {
	mu       sync.Mutex
	intents  map[string]*models.LedgerIntent
	history  map[string][]models.IntentStatus
	beginErr error
	last     time.Time
}

func newMemIntents() *memIntents {
	return &memIntents{intents: map[string]*models.LedgerIntent{}, history: map[string][]models.IntentStatus{}}
}

func (m *memIntents) Begin(ctx context.Context, intent *models.LedgerIntent) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	intent.ID = uuid.NewString()
	intent.Status = models.IntentPending
	intent.Created = time.Now()
	intent.Updated = m.stamp()
	cp := *intent
	m.intents[intent.ID] = &cp
	m.history[intent.ID] = []models.IntentStatus{models.IntentPending}
	return nil
}

func (m *memIntents) Advance(ctx context.Context, id string, to models.IntentStatus, u IntentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return status.NotFound("intent %s", id)
	}
	in.Status = to
	in.Updated = m.stamp()
	if u.TicketID != "" {
		in.TicketID = u.TicketID
	}
	if u.TokenID != "" {
		in.TokenID = u.TokenID
	}
	if u.TxHash != "" {
		in.TxHash = u.TxHash
	}
	if u.Error != "" {
		in.Error = u.Error
	}
	m.history[id] = append(m.history[id], to)
	return nil
}

func (m *memIntents) Stale(ctx context.Context, before time.Time, limit int) ([]*models.LedgerIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerIntent
	for _, in := range m.intents {
		if in.Status.Open() && in.Created.Before(before) {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.Before(out[j].Updated)
		}
		return out[i].Created.Before(out[j].Created)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// stamp hands out strictly increasing times so update order is stable.
func (m *memIntents) stamp() time.Time {
	now := time.Now()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

func (m *memIntents) add(in *models.LedgerIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.intents[in.ID] = &cp
}

func (m *memIntents) get(id string) models.LedgerIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.intents[id]
}

func (m *memIntents) byOp(t *testing.T, op models.IntentOp) models.LedgerIntent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.intents {
		if in.Op == op {
			return *in
		}
	}
	t.Fatalf("no %s intent", op)
	return models.LedgerIntent{}
}

func (m *memIntents) only(t *testing.T) models.LedgerIntent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.intents, 1)
	for _, in := range m.intents {
		return *in
	}
	return models.LedgerIntent{}
}

// fakeChain plays the contract for the coordinator, the OTP verifier and
// the reconciler.
type fakeChain struct {
	mu sync.Mutex

	nextToken int64
	owners    map[string]common.Address
	hashes    map[string]string
	balances  map[string]*big.Int
	txs       map[string]ledger.TxState
	receipts  map[string]*types.Receipt

	mintErr     error
	purchaseErr error
	burnErr     error
	ownerErr    error
	onMint      func()
	purchases   int
	mints       int
	txCounter   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		nextToken: 42,
		owners:    map[string]common.Address{},
		hashes:    map[string]string{},
		balances:  map[string]*big.Int{},
		txs:       map[string]ledger.TxState{},
		receipts:  map[string]*types.Receipt{},
	}
}

func (c *fakeChain) txHash() string {
	c.txCounter++
	return common.BigToHash(big.NewInt(int64(c.txCounter))).Hex()
}

func (c *fakeChain) fund(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[address] = big.NewInt(1e18)
}

func (c *fakeChain) Mint(ctx context.Context, from ledger.Signer, tokenURI string, price decimal.Decimal, eventID, venueID string) (ledger.MintResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mints++
	if c.onMint != nil {
		c.onMint()
	}
	if c.mintErr != nil {
		return ledger.MintResult{}, c.mintErr
	}
	id := fmt.Sprint(c.nextToken)
	c.nextToken++
	c.owners[id] = from.Address()
	hash := c.txHash()
	c.txs[hash] = ledger.TxSucceeded
	return ledger.MintResult{TokenID: id, TxHash: hash}, nil
}

func (c *fakeChain) Purchase(ctx context.Context, from ledger.Signer, tokenID string, value decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchases++
	if c.purchaseErr != nil {
		return "", c.purchaseErr
	}
	c.owners[tokenID] = from.Address()
	hash := c.txHash()
	c.txs[hash] = ledger.TxSucceeded
	return hash, nil
}

func (c *fakeChain) Balance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[address]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (c *fakeChain) SetRedemptionHash(ctx context.Context, from ledger.Signer, tokenID, hash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owners[tokenID]; !ok {
		return "", status.LedgerCall("setOTPHash", errors.New("execution reverted: nonexistent token"))
	}
	c.hashes[tokenID] = hash
	return c.txHash(), nil
}

func (c *fakeChain) Burn(ctx context.Context, from ledger.Signer, tokenID, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.burnErr != nil {
		return "", c.burnErr
	}
	owner, ok := c.owners[tokenID]
	if !ok {
		return "", status.LedgerCall("burnTicket", errors.New("execution reverted: nonexistent token"))
	}
	if owner != from.Address() || c.hashes[tokenID] != otp.HashCode(code) {
		return "", status.LedgerCall("burnTicket", errors.New("execution reverted: invalid OTP"))
	}
	delete(c.owners, tokenID)
	hash := c.txHash()
	c.txs[hash] = ledger.TxSucceeded
	return hash, nil
}

func (c *fakeChain) TxStatus(ctx context.Context, txHash string) (ledger.TxState, *types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs[txHash], c.receipts[txHash], nil
}

func (c *fakeChain) MintedTokenID(receipt *types.Receipt) (string, error) {
	if receipt == nil || len(receipt.Logs) == 0 || len(receipt.Logs[0].Topics) < 2 {
		return "", errors.New("no mint event")
	}
	return receipt.Logs[0].Topics[1].Big().String(), nil
}

func (c *fakeChain) OwnerOf(ctx context.Context, tokenID string) (common.Address, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownerErr != nil {
		return common.Address{}, false, c.ownerErr
	}
	owner, ok := c.owners[tokenID]
	return owner, ok, nil
}

type published struct {
	userID string
	kind   string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(userID, kind string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{userID: userID, kind: kind})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.kind)
	}
	return out
}

type countingLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func (l *countingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

func (l *countingLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	return nil
}

// fixture wires the coordinator against the fakes with one seller, one
// event and a few buyers.
type fixture struct {
	tickets  *memTickets
	users    *memUsers
	catalog  *memCatalog
	intents  *memIntents
	chain    *fakeChain
	custody  *wallet.Custody
	notifier *recordingNotifier
	accounts *AccountService
	service  *TicketService
	verifier *otp.Verifier
	codes    *memCodes
}

type memCodes struct {
	mu    sync.Mutex
	codes map[string]otp.Code
}

func (m *memCodes) Put(ctx context.Context, ticketID string, code otp.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[ticketID] = code
	return nil
}

func (m *memCodes) Get(ctx context.Context, ticketID string) (*otp.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[ticketID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCodes) Delete(ctx context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, ticketID)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	custody, err := wallet.New("services-test-secret-0123")
	require.NoError(t, err)

	sellerWallet, err := custody.ProvisionWallet(models.RoleSeller)
	require.NoError(t, err)

	users := newMemUsers(
		&models.User{ID: "seller-1", Role: models.RoleSeller, SellerWallet: sellerWallet},
		&models.User{ID: "buyer-1", Role: models.RoleBuyer},
		&models.User{ID: "buyer-2", Role: models.RoleBuyer},
		&models.User{ID: "ver-1", Role: models.RoleVerifier, CreatedBy: "seller-1"},
	)

	chain := newFakeChain()
	chain.fund(sellerWallet.Address)

	f := &fixture{
		tickets: newMemTickets(),
		users:   users,
		catalog: &memCatalog{
			events: map[string]*models.Event{
				"E": {ID: "E", CreatedBy: "seller-1", VenueID: "V", MaxTickets: 100},
			},
			venues: map[string]*models.Venue{"V": {ID: "V", CreatedBy: "vm-1"}},
		},
		intents:  newMemIntents(),
		chain:    chain,
		custody:  custody,
		notifier: &recordingNotifier{},
		codes:    &memCodes{codes: map[string]otp.Code{}},
	}
	f.accounts = NewAccountService(users, custody)
	f.verifier = otp.NewVerifier(chain, f.codes, 5*time.Minute)
	f.service = NewTicketService(TicketDeps{
		Tickets:  f.tickets,
		Users:    users,
		Catalog:  f.catalog,
		Intents:  f.intents,
		Ledger:   chain,
		Redeemer: f.verifier,
		Keys:     custody,
		Accounts: f.accounts,
		Notifier: f.notifier,
	})
	return f
}

var (
	sellerP   = guard.Principal{UserID: "seller-1", Role: models.RoleSeller}
	buyerP    = guard.Principal{UserID: "buyer-1", Role: models.RoleBuyer}
	buyer2P   = guard.Principal{UserID: "buyer-2", Role: models.RoleBuyer}
	verifierP = guard.Principal{UserID: "ver-1", Role: models.RoleVerifier, CreatedBy: "seller-1"}
)

func (f *fixture) mint(t *testing.T) *models.Ticket {
	t.Helper()
	out, err := f.service.CreateTicket(context.Background(), sellerP, CreateTicketRequest{
		EventID:  "E",
		VenueID:  "V",
		Price:    decimal.NewFromInt(10),
		TokenURI: "ipfs://ticket",
	})
	require.NoError(t, err)
	return out.Ticket
}

func (f *fixture) mintAndSell(t *testing.T) *models.Ticket {
	t.Helper()
	ticket := f.mint(t)
	out, err := f.service.PurchaseTicket(context.Background(), buyerP, ticket.ID, "")
	require.NoError(t, err)
	return out.Ticket
}

func effectKinds(out *Outcome) []EffectKind {
	var kinds []EffectKind
	for _, e := range out.Effects {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
