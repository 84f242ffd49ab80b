package custody

import (
	"fmt"
	"sync"

	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/nav"

	"github.com/google/uuid"
)

type positionKey struct {
	owner   uuid.UUID
	tokenID uint64
}

// MemoryCustodian is an in-process Custodian used by tests and local
// single-node runs. Account balances are plain counters; the protocol
// reserve is an account like any other.
type MemoryCustodian struct {
	mu          sync.Mutex
	positions   map[positionKey]Position
	stable      map[uuid.UUID]fixedpoint.Wad
	underlying  map[uuid.UUID]fixedpoint.Wad
	protoStable fixedpoint.Wad
	protoUnder  fixedpoint.Wad
	nextTokenID uint64
}

func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{
		positions:   make(map[positionKey]Position),
		stable:      make(map[uuid.UUID]fixedpoint.Wad),
		underlying:  make(map[uuid.UUID]fixedpoint.Wad),
		nextTokenID: 1,
	}
}

// CreatePosition seeds a bucket and returns its token ID.
func (m *MemoryCustodian) CreatePosition(owner uuid.UUID, tier nav.LeverageTier, mintPrice, balance fixedpoint.Wad) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextTokenID
	m.nextTokenID++
	m.positions[positionKey{owner, id}] = Position{
		Owner:     owner,
		TokenID:   id,
		Tier:      tier,
		MintPrice: mintPrice,
		Balance:   balance,
	}
	return id
}

func (m *MemoryCustodian) GetPosition(owner uuid.UUID, tokenID uint64) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionKey{owner, tokenID}]
	if !ok {
		return Position{}, fmt.Errorf("%w: owner=%s token=%d", ErrPositionNotFound, owner, tokenID)
	}
	return pos, nil
}

func (m *MemoryCustodian) BurnLeveragedClaim(owner uuid.UUID, tokenID uint64, amount fixedpoint.Wad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey{owner, tokenID}
	pos, ok := m.positions[key]
	if !ok {
		return fmt.Errorf("%w: owner=%s token=%d", ErrPositionNotFound, owner, tokenID)
	}
	if pos.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s exceeds balance %s", ErrInsufficientBalance, amount, pos.Balance)
	}
	pos.Balance = pos.Balance.Sub(amount)
	m.positions[key] = pos
	return nil
}

func (m *MemoryCustodian) MintLeveragedClaim(owner uuid.UUID, tier nav.LeverageTier, mintPrice, balance fixedpoint.Wad) (uint64, error) {
	if mintPrice.Sign() <= 0 {
		return 0, fmt.Errorf("custody: mint price must be positive, got %s", mintPrice)
	}
	return m.CreatePosition(owner, tier, mintPrice, balance), nil
}

func (m *MemoryCustodian) TransferUnderlying(to uuid.UUID, amount fixedpoint.Wad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.protoUnder.Cmp(amount) < 0 {
		return fmt.Errorf("%w: protocol underlying %s < %s", ErrInsufficientBalance, m.protoUnder, amount)
	}
	m.protoUnder = m.protoUnder.Sub(amount)
	m.underlying[to] = m.underlying[to].Add(amount)
	return nil
}

func (m *MemoryCustodian) TransferStable(to uuid.UUID, amount fixedpoint.Wad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.protoStable.Cmp(amount) < 0 {
		return fmt.Errorf("%w: protocol stable %s < %s", ErrInsufficientBalance, m.protoStable, amount)
	}
	m.protoStable = m.protoStable.Sub(amount)
	m.stable[to] = m.stable[to].Add(amount)
	return nil
}

func (m *MemoryCustodian) CollectStable(from uuid.UUID, amount fixedpoint.Wad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stable[from].Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, from, m.stable[from], amount)
	}
	m.stable[from] = m.stable[from].Sub(amount)
	m.protoStable = m.protoStable.Add(amount)
	return nil
}

// FundAccountStable seeds an account's stable balance.
func (m *MemoryCustodian) FundAccountStable(account uuid.UUID, amount fixedpoint.Wad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stable[account] = m.stable[account].Add(amount)
}

// FundProtocol seeds the protocol's stable and underlying reserves.
func (m *MemoryCustodian) FundProtocol(stable, underlying fixedpoint.Wad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protoStable = m.protoStable.Add(stable)
	m.protoUnder = m.protoUnder.Add(underlying)
}

// StableBalance reports an account's stable balance.
func (m *MemoryCustodian) StableBalance(account uuid.UUID) fixedpoint.Wad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable[account]
}

// UnderlyingBalance reports an account's underlying balance.
func (m *MemoryCustodian) UnderlyingBalance(account uuid.UUID) fixedpoint.Wad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.underlying[account]
}

// MemoryInterestManager is an in-process InterestManager.
type MemoryInterestManager struct {
	mu      sync.Mutex
	accrued map[positionKey]fixedpoint.Wad
	settled map[positionKey]fixedpoint.Wad
}

func NewMemoryInterestManager() *MemoryInterestManager {
	return &MemoryInterestManager{
		accrued: make(map[positionKey]fixedpoint.Wad),
		settled: make(map[positionKey]fixedpoint.Wad),
	}
}

// SetAccrued seeds the pending interest for a bucket.
func (m *MemoryInterestManager) SetAccrued(owner uuid.UUID, tokenID uint64, amount fixedpoint.Wad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accrued[positionKey{owner, tokenID}] = amount
}

func (m *MemoryInterestManager) PreviewAccruedInterest(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accrued[positionKey{owner, tokenID}], nil
}

func (m *MemoryInterestManager) SettleInterest(owner uuid.UUID, tokenID uint64, amount fixedpoint.Wad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey{owner, tokenID}
	outstanding := m.accrued[key]
	if outstanding.Cmp(amount) < 0 {
		return fmt.Errorf("custody: settle %s exceeds accrued %s", amount, outstanding)
	}
	m.accrued[key] = outstanding.Sub(amount)
	m.settled[key] = m.settled[key].Add(amount)
	return nil
}

// Settled reports the total interest settled for a bucket.
func (m *MemoryInterestManager) Settled(owner uuid.UUID, tokenID uint64) fixedpoint.Wad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled[positionKey{owner, tokenID}]
}
