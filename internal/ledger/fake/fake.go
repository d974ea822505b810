// Package fake is an in-memory ledger that honours the ledger.Client contract.
// Failures can be injected per instruction so partial-failure and
// ambiguous-outcome paths can be exercised without a network.
package fake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
)

// Mode selects how an injected failure behaves.
type Mode int

const (
	// FailUnavailable drops the transaction before it reaches the ledger.
	FailUnavailable Mode = iota + 1
	// FailRejected refuses the transaction without applying it.
	FailRejected
	// FailTimeoutAfterApply applies the transaction and then reports ErrConfirmationTimeout.
	FailTimeoutAfterApply
	// FailHangAfterApply applies the transaction and then waits for the caller's context to end.
	FailHangAfterApply
)

type holdingKey struct {
	asset string
	owner string
}

type holding struct {
	asset   string
	owner   string
	balance decimal.Decimal
}

type object struct {
	version uint64
	// authority is the asset's authority address; it outlives the individual flags.
	authority string
	asset     *ledger.AssetState
	pool      *ledger.PoolState
	holding   *holding
}

func (o *object) clone() *object {
	c := &object{version: o.version, authority: o.authority}
	if o.asset != nil {
		a := *o.asset
		c.asset = &a
	}
	if o.pool != nil {
		p := *o.pool
		if o.pool.StartTime != nil {
			st := *o.pool.StartTime
			p.StartTime = &st
		}
		c.pool = &p
	}
	if o.holding != nil {
		h := *o.holding
		c.holding = &h
	}
	return c
}

// Ledger is safe for concurrent use. Every applied transaction gets the next
// sequence number, and every object it touches takes that number as its version.
type Ledger struct {
	mu           sync.Mutex
	now          func() time.Time
	seq          uint64
	objects      map[string]*object
	holdings     map[holdingKey]string
	failures     map[string][]Mode
	readFailures map[string]error
	beforeApply  func(*ledger.Transaction)
	submitted    [][]string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:          time.Now,
		objects:      make(map[string]*object),
		holdings:     make(map[holdingKey]string),
		failures:     make(map[string][]Mode),
		readFailures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailNext queues failures for the next transactions that contain op.
func (l *Ledger) FailNext(op string, modes ...Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = append(l.failures[op], modes...)
}

// FailRead makes the next AccountState call for address return err.
func (l *Ledger) FailRead(address string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readFailures[address] = err
}

// BeforeApply registers a hook run on every submission before it is applied.
// The hook runs without the ledger lock held, so it may call MutatePool.
func (l *Ledger) BeforeApply(fn func(*ledger.Transaction)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeApply = fn
}

// MutatePool changes a pool outside of any launchpad transaction, the way a
// concurrent external trader would.
func (l *Ledger) MutatePool(id string, fn func(*ledger.PoolState)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.objects[id]
	if !ok || obj.pool == nil {
		return ledger.ErrNotFound
	}
	next := obj.clone()
	fn(next.pool)
	l.seq++
	next.version = l.seq
	l.objects[id] = next
	return nil
}

// Submitted returns the instruction ops of every transaction that reached Submit.
func (l *Ledger) Submitted() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]string, len(l.submitted))
	copy(out, l.submitted)
	return out
}

// Balance returns owner's holding balance of asset, zero if there is no holding.
func (l *Ledger) Balance(asset, owner string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.holdings[holdingKey{asset, owner}]
	if !ok {
		return decimal.Zero
	}
	return l.objects[addr].holding.balance
}

func (l *Ledger) Build(ctx context.Context, sender string, instructions ...ledger.Instruction) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	if sender == "" {
		return nil, fmt.Errorf("%w: empty sender", ledger.ErrRejected)
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: no instructions", ledger.ErrRejected)
	}
	ops := make([]string, len(instructions))
	for i, ins := range instructions {
		ops[i] = ins.Op()
	}
	payload := fmt.Sprintf("%s|%s|%s", sender, strings.Join(ops, ","), uuid.NewString())
	return &ledger.Transaction{
		Sender:       sender,
		Instructions: instructions,
		Payload:      []byte(payload),
	}, nil
}

func (l *Ledger) Submit(ctx context.Context, stx *ledger.SignedTransaction) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	if stx == nil || stx.Tx == nil {
		return nil, fmt.Errorf("%w: empty transaction", ledger.ErrRejected)
	}
	if !bytes.Equal(stx.Signature, signature(stx.Tx.Sender, stx.Tx.Payload)) {
		return nil, fmt.Errorf("%w: signature does not match sender %s", ledger.ErrRejected, stx.Tx.Sender)
	}

	l.mu.Lock()
	hook := l.beforeApply
	l.mu.Unlock()
	if hook != nil {
		hook(stx.Tx)
	}

	l.mu.Lock()
	ops := make([]string, len(stx.Tx.Instructions))
	for i, ins := range stx.Tx.Instructions {
		ops[i] = ins.Op()
	}
	l.submitted = append(l.submitted, ops)

	mode := l.takeFailure(ops)
	switch mode {
	case FailUnavailable:
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: injected", ledger.ErrUnavailable)
	case FailRejected:
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: injected", ledger.ErrRejected)
	}

	receipt, err := l.apply(stx.Tx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	switch mode {
	case FailTimeoutAfterApply:
		return nil, ledger.ErrConfirmationTimeout
	case FailHangAfterApply:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return receipt, nil
}

func (l *Ledger) AccountState(ctx context.Context, address string) (*ledger.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.readFailures[address]; ok {
		delete(l.readFailures, address)
		return nil, err
	}
	obj, ok := l.objects[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, address)
	}
	c := obj.clone()
	return &ledger.AccountState{
		Address: address,
		Version: c.version,
		Asset:   c.asset,
		Pool:    c.pool,
	}, nil
}

func (l *Ledger) FindHolding(ctx context.Context, asset, owner string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.holdings[holdingKey{asset, owner}]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return addr, nil
}

func (l *Ledger) takeFailure(ops []string) Mode {
	for _, op := range ops {
		if q := l.failures[op]; len(q) > 0 {
			l.failures[op] = q[1:]
			return q[0]
		}
	}
	return 0
}

// stage is the copy-on-write view a transaction is applied to.
type stage struct {
	objects  map[string]*object
	holdings map[holdingKey]string
	touched  map[string]struct{}
	created  map[ledger.ObjectKind]string
}

func (s *stage) write(addr string) *object {
	if _, ok := s.touched[addr]; !ok {
		s.objects[addr] = s.objects[addr].clone()
		s.touched[addr] = struct{}{}
	}
	return s.objects[addr]
}

func (s *stage) insert(kind ledger.ObjectKind, obj *object) string {
	addr := newAddress()
	s.objects[addr] = obj
	s.touched[addr] = struct{}{}
	s.created[kind] = addr
	return addr
}

func (s *stage) asset(addr string) (*ledger.AssetState, error) {
	obj, ok := s.objects[addr]
	if !ok || obj.asset == nil {
		return nil, fmt.Errorf("%w: asset %s does not exist", ledger.ErrRejected, addr)
	}
	return obj.asset, nil
}

func (s *stage) pool(addr string) (*ledger.PoolState, error) {
	obj, ok := s.objects[addr]
	if !ok || obj.pool == nil {
		return nil, fmt.Errorf("%w: pool %s does not exist", ledger.ErrRejected, addr)
	}
	return obj.pool, nil
}

func (s *stage) adjust(asset, owner string, delta decimal.Decimal) error {
	addr, ok := s.holdings[holdingKey{asset, owner}]
	if !ok {
		return fmt.Errorf("%w: %s has no holding of %s", ledger.ErrRejected, owner, asset)
	}
	h := s.write(addr).holding
	next := h.balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: holding %s balance %s is below %s", ledger.ErrRejected, addr, h.balance, delta.Neg())
	}
	h.balance = next
	return nil
}

// apply runs every instruction against a staged copy and commits only if all succeed.
func (l *Ledger) apply(tx *ledger.Transaction) (*ledger.Receipt, error) {
	s := &stage{
		objects:  make(map[string]*object, len(l.objects)),
		holdings: make(map[holdingKey]string, len(l.holdings)),
		touched:  make(map[string]struct{}),
		created:  make(map[ledger.ObjectKind]string),
	}
	for k, v := range l.objects {
		s.objects[k] = v
	}
	for k, v := range l.holdings {
		s.holdings[k] = v
	}

	now := l.now()
	for i, ins := range tx.Instructions {
		if err := s.run(tx.Sender, now, ins); err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, ins.Op(), err)
		}
	}

	version := l.seq + 1
	for addr := range s.touched {
		s.objects[addr].version = version
	}
	l.seq = version
	l.objects = s.objects
	l.holdings = s.holdings

	return &ledger.Receipt{
		ConfirmationID: uuid.NewString(),
		Created:        s.created,
	}, nil
}

func (s *stage) run(sender string, now time.Time, ins ledger.Instruction) error {
	switch in := ins.(type) {
	case ledger.CreateAsset:
		if in.Decimals > domain.MaxDecimals {
			return fmt.Errorf("%w: decimals %d out of range", ledger.ErrRejected, in.Decimals)
		}
		if in.Symbol == "" || in.Authority == "" {
			return fmt.Errorf("%w: symbol and authority are required", ledger.ErrRejected)
		}
		st := &ledger.AssetState{
			Name:            in.Name,
			Symbol:          in.Symbol,
			Decimals:        in.Decimals,
			Supply:          decimal.Zero,
			Creator:         sender,
			CreatedAt:       now,
			MetadataURI:     in.MetadataURI,
			MintAuthority:   in.Authority,
			UpdateAuthority: in.Authority,
		}
		if in.Freeze {
			st.FreezeAuthority = in.Authority
		}
		s.insert(ledger.ObjectAsset, &object{authority: in.Authority, asset: st})

	case ledger.CreateHolding:
		if _, err := s.asset(in.Asset); err != nil {
			return err
		}
		key := holdingKey{in.Asset, in.Owner}
		if _, ok := s.holdings[key]; ok {
			return fmt.Errorf("%w: holding for %s already exists", ledger.ErrRejected, in.Owner)
		}
		addr := s.insert(ledger.ObjectHolding, &object{holding: &holding{asset: in.Asset, owner: in.Owner, balance: decimal.Zero}})
		s.holdings[key] = addr

	case ledger.MintTo:
		a, err := s.asset(in.Asset)
		if err != nil {
			return err
		}
		if a.MintAuthority == "" || a.MintAuthority != sender {
			return fmt.Errorf("%w: %s is not the mint authority", ledger.ErrRejected, sender)
		}
		if !domain.IsPositiveInteger(in.Amount) {
			return fmt.Errorf("%w: mint amount %s must be a positive integer", ledger.ErrRejected, in.Amount)
		}
		supply := a.Supply.Add(in.Amount)
		if err := checkU64("supply", supply); err != nil {
			return err
		}
		if err := s.adjust(in.Asset, in.Owner, in.Amount); err != nil {
			return err
		}
		s.write(in.Asset).asset.Supply = supply

	case ledger.RevokeAuthority:
		a, err := s.asset(in.Asset)
		if err != nil {
			return err
		}
		if s.objects[in.Asset].authority != sender {
			return fmt.Errorf("%w: %s is not the asset authority", ledger.ErrRejected, sender)
		}
		current := authority(a, in.Kind)
		if current == nil {
			return fmt.Errorf("%w: unknown authority %q", ledger.ErrRejected, in.Kind)
		}
		if *current == "" {
			return nil
		}
		*authority(s.write(in.Asset).asset, in.Kind) = ""

	case ledger.SetMetadataURI:
		a, err := s.asset(in.Asset)
		if err != nil {
			return err
		}
		if a.UpdateAuthority == "" || a.UpdateAuthority != sender {
			return fmt.Errorf("%w: %s is not the update authority", ledger.ErrRejected, sender)
		}
		s.write(in.Asset).asset.MetadataURI = in.URI

	case ledger.CreatePool:
		if in.BaseAsset == in.QuoteAsset {
			return fmt.Errorf("%w: base and quote must differ", ledger.ErrRejected)
		}
		if !domain.IsPositiveInteger(in.BaseAmount) || !domain.IsPositiveInteger(in.QuoteAmount) {
			return fmt.Errorf("%w: pool amounts must be positive integers", ledger.ErrRejected)
		}
		if err := checkU64("base amount", in.BaseAmount); err != nil {
			return err
		}
		if err := checkU64("quote amount", in.QuoteAmount); err != nil {
			return err
		}
		if _, err := s.asset(in.BaseAsset); err != nil {
			return err
		}
		if _, err := s.asset(in.QuoteAsset); err != nil {
			return err
		}
		if err := s.adjust(in.BaseAsset, sender, in.BaseAmount.Neg()); err != nil {
			return err
		}
		if err := s.adjust(in.QuoteAsset, sender, in.QuoteAmount.Neg()); err != nil {
			return err
		}
		st := &ledger.PoolState{
			BaseAsset:    in.BaseAsset,
			QuoteAsset:   in.QuoteAsset,
			BaseReserve:  in.BaseAmount,
			QuoteReserve: in.QuoteAmount,
			CreatedAt:    now,
		}
		if in.StartTime != nil {
			t := *in.StartTime
			st.StartTime = &t
		}
		s.insert(ledger.ObjectPool, &object{pool: st})

	case ledger.AddLiquidity:
		return s.changeReserves(sender, now, in.Pool, in.BaseDelta, in.QuoteDelta)

	case ledger.RemoveLiquidity:
		return s.changeReserves(sender, now, in.Pool, in.BaseDelta.Neg(), in.QuoteDelta.Neg())

	default:
		return fmt.Errorf("%w: unsupported instruction %T", ledger.ErrRejected, ins)
	}
	return nil
}

// changeReserves moves signed deltas from the sender's holdings into the pool.
func (s *stage) changeReserves(sender string, now time.Time, poolID string, baseDelta, quoteDelta decimal.Decimal) error {
	p, err := s.pool(poolID)
	if err != nil {
		return err
	}
	if p.StartTime != nil && now.Before(*p.StartTime) {
		return fmt.Errorf("%w: pool %s is inert until %s", ledger.ErrRejected, poolID, p.StartTime.Format(time.RFC3339))
	}
	base := p.BaseReserve.Add(baseDelta)
	quote := p.QuoteReserve.Add(quoteDelta)
	if base.IsNegative() || quote.IsNegative() {
		return fmt.Errorf("%w: insufficient reserves in pool %s", ledger.ErrRejected, poolID)
	}
	if err := checkU64("base reserve", base); err != nil {
		return err
	}
	if err := checkU64("quote reserve", quote); err != nil {
		return err
	}
	if err := s.adjust(p.BaseAsset, sender, baseDelta.Neg()); err != nil {
		return err
	}
	if err := s.adjust(p.QuoteAsset, sender, quoteDelta.Neg()); err != nil {
		return err
	}
	w := s.write(poolID).pool
	w.BaseReserve = base
	w.QuoteReserve = quote
	return nil
}

// checkU64 rejects values the Move program would overflow on.
func checkU64(what string, d decimal.Decimal) error {
	if d.GreaterThan(domain.MaxBaseUnits) {
		return fmt.Errorf("%w: %s %s does not fit in u64", ledger.ErrRejected, what, d)
	}
	return nil
}

func authority(a *ledger.AssetState, kind domain.AuthorityKind) *string {
	switch kind {
	case domain.AuthorityMint:
		return &a.MintAuthority
	case domain.AuthorityFreeze:
		return &a.FreezeAuthority
	case domain.AuthorityUpdate:
		return &a.UpdateAuthority
	default:
		return nil
	}
}

func newAddress() string {
	id := uuid.New()
	return fmt.Sprintf("0x%x", id[:])
}

func signature(sender string, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write(payload)
	return h.Sum(nil)
}

// Signer signs fake transactions. Reject makes every signature request fail.
type Signer struct {
	Addr   string
	Reject bool
}

func NewSigner(addr string) *Signer {
	return &Signer{Addr: addr}
}

func (s *Signer) Address() string { return s.Addr }

func (s *Signer) Sign(ctx context.Context, tx *ledger.Transaction) (*ledger.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Reject {
		return nil, ledger.ErrSignerRejected
	}
	return &ledger.SignedTransaction{Tx: tx, Signature: signature(s.Addr, tx.Payload)}, nil
}
