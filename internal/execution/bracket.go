package execution

import (
	"sort"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BracketSpec is the stop-loss/take-profit pair planned for one entry.
type BracketSpec struct {
	ParentOrderID string
	Contract      domain.Contract
	EntryPrice    decimal.Decimal
	Quantity      int64
	StopPrice     decimal.NullDecimal
	ProfitPrice   decimal.NullDecimal
}

// OCAGroup names the one-cancels-all group of the pair.
func (s BracketSpec) OCAGroup() string {
	if s.StopPrice.Valid && s.ProfitPrice.Valid {
		return "OCA_" + s.ParentOrderID
	}
	return ""
}

// StopRequest builds the stop leg.
func (s BracketSpec) StopRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Contract:       s.Contract,
		Side:           domain.SideSell,
		Kind:           domain.OrderKindStop,
		Quantity:       s.Quantity,
		StopPrice:      s.StopPrice.Decimal,
		OCAGroup:       s.OCAGroup(),
		GoodTillCancel: true,
	}
}

// ProfitRequest builds the take-profit leg.
func (s BracketSpec) ProfitRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Contract:       s.Contract,
		Side:           domain.SideSell,
		Kind:           domain.OrderKindLimit,
		Quantity:       s.Quantity,
		LimitPrice:     s.ProfitPrice.Decimal,
		OCAGroup:       s.OCAGroup(),
		GoodTillCancel: true,
	}
}

// PlanBracket computes the child prices for a filled entry. It returns false
// when the tier configures neither leg.
func PlanBracket(parentID string, contract domain.Contract, entry decimal.Decimal, qty int64, tier domain.RiskTier) (BracketSpec, bool) {
	if qty <= 0 || !entry.IsPositive() || (!tier.HasStop() && !tier.HasProfit()) {
		return BracketSpec{}, false
	}
	spec := BracketSpec{
		ParentOrderID: parentID,
		Contract:      contract,
		EntryPrice:    entry,
		Quantity:      qty,
	}
	if tier.HasStop() {
		factor := decimal.NewFromInt(1).Sub(tier.StopLossPct.Decimal.Div(hundred))
		stop := entry.Mul(factor)
		// A stop at or below zero would never trigger.
		if stop.IsPositive() {
			spec.StopPrice = decimal.NewNullDecimal(stop)
		}
	}
	if tier.HasProfit() {
		factor := decimal.NewFromInt(1).Add(tier.ProfitGainPct.Decimal.Div(hundred))
		spec.ProfitPrice = decimal.NewNullDecimal(entry.Mul(factor))
	}
	if !spec.StopPrice.Valid && !spec.ProfitPrice.Valid {
		return BracketSpec{}, false
	}
	return spec, true
}

// BracketManager tracks bracket groups and their leg orders.
// It is not safe for concurrent use; the engine guards it with its bracket lock.
type BracketManager struct {
	groups  map[string]*domain.BracketGroup // by parent order id
	legs    map[string]string               // leg order id -> parent order id
	pending map[string]BracketSpec          // placements waiting for a connection
}

// NewBracketManager creates an empty manager.
func NewBracketManager() *BracketManager {
	return &BracketManager{
		groups:  make(map[string]*domain.BracketGroup),
		legs:    make(map[string]string),
		pending: make(map[string]BracketSpec),
	}
}

// Add registers a group once its legs have been acknowledged.
func (m *BracketManager) Add(spec BracketSpec, stopID, profitID string) *domain.BracketGroup {
	g := &domain.BracketGroup{
		ParentOrderID: spec.ParentOrderID,
		Symbol:        spec.Contract.Symbol,
		Contract:      spec.Contract,
		StopOrderID:   stopID,
		ProfitOrderID: profitID,
		StopPrice:     spec.StopPrice.Decimal,
		ProfitPrice:   spec.ProfitPrice.Decimal,
		EntryPrice:    spec.EntryPrice,
		Quantity:      spec.Quantity,
		State:         domain.BracketActive,
	}
	if stopID != "" && profitID != "" {
		g.OCAGroup = spec.OCAGroup()
	}
	m.groups[g.ParentOrderID] = g
	for _, id := range g.LegIDs() {
		m.legs[id] = g.ParentOrderID
	}
	delete(m.pending, spec.ParentOrderID)
	return g
}

// IsLeg reports whether orderID is an attached bracket leg.
func (m *BracketManager) IsLeg(orderID string) bool {
	_, ok := m.legs[orderID]
	return ok
}

// LiveGroup returns the live group for symbol, if any.
func (m *BracketManager) LiveGroup(symbol string) (*domain.BracketGroup, bool) {
	for _, g := range m.groups {
		if g.Symbol == symbol && g.IsLive() {
			return g, true
		}
	}
	return nil, false
}

// LegFilled marks the group after one leg has completely filled and returns
// the sibling that must be cancelled, if one is attached.
func (m *BracketManager) LegFilled(orderID string) (sibling string, g *domain.BracketGroup) {
	parent, ok := m.legs[orderID]
	if !ok {
		return "", nil
	}
	g = m.groups[parent]
	delete(m.legs, orderID)

	switch orderID {
	case g.StopOrderID:
		sibling = g.ProfitOrderID
	case g.ProfitOrderID:
		sibling = g.StopOrderID
	}
	if sibling != "" {
		g.State = domain.BracketOneFilled
	} else {
		g.State = domain.BracketClosed
	}
	return sibling, g
}

// LegCancelled records a confirmed leg cancel. A one-filled group closes on
// its sibling's cancel; an active group whose legs are all gone is cancelled.
func (m *BracketManager) LegCancelled(orderID string) *domain.BracketGroup {
	parent, ok := m.legs[orderID]
	if !ok {
		return nil
	}
	g := m.groups[parent]
	delete(m.legs, orderID)

	if g.State == domain.BracketOneFilled {
		g.State = domain.BracketClosed
		return g
	}
	if !m.hasAttachedLegs(g) && g.State == domain.BracketActive {
		g.State = domain.BracketCancelled
	}
	return g
}

func (m *BracketManager) hasAttachedLegs(g *domain.BracketGroup) bool {
	for _, id := range g.LegIDs() {
		if m.legs[id] == g.ParentOrderID {
			return true
		}
	}
	return false
}

// AttachedLegs returns the legs of g that can still fill.
func (m *BracketManager) AttachedLegs(g *domain.BracketGroup) []string {
	var out []string
	for _, id := range g.LegIDs() {
		if m.legs[id] == g.ParentOrderID {
			out = append(out, id)
		}
	}
	return out
}

// ReplaceLeg swaps a resized leg into the group. The old id is detached so
// its cancel confirmation is ignored.
func (m *BracketManager) ReplaceLeg(g *domain.BracketGroup, oldID, newID string, qty int64) {
	delete(m.legs, oldID)
	switch oldID {
	case g.StopOrderID:
		g.StopOrderID = newID
	case g.ProfitOrderID:
		g.ProfitOrderID = newID
	}
	if newID != "" {
		m.legs[newID] = g.ParentOrderID
	}
	g.Quantity = qty
	if !m.hasAttachedLegs(g) && g.State == domain.BracketActive {
		g.State = domain.BracketCancelled
	}
}

// CancelAll marks every live group on symbol cancelled and returns the
// attached leg ids that still need a broker cancel.
func (m *BracketManager) CancelAll(symbol string) []string {
	var ids []string
	for _, g := range m.groups {
		if g.Symbol != symbol || !g.IsLive() {
			continue
		}
		for _, id := range m.AttachedLegs(g) {
			ids = append(ids, id)
			delete(m.legs, id)
		}
		if g.State == domain.BracketOneFilled {
			g.State = domain.BracketClosed
		} else {
			g.State = domain.BracketCancelled
		}
	}
	for parent, spec := range m.pending {
		if spec.Contract.Symbol == symbol {
			delete(m.pending, parent)
		}
	}
	sort.Strings(ids)
	return ids
}

// Queue keeps a placement that failed because the broker was unreachable.
func (m *BracketManager) Queue(spec BracketSpec) {
	m.pending[spec.ParentOrderID] = spec
}

// TakePending removes and returns the queued placements.
func (m *BracketManager) TakePending() []BracketSpec {
	out := make([]BracketSpec, 0, len(m.pending))
	for parent, spec := range m.pending {
		out = append(out, spec)
		delete(m.pending, parent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParentOrderID < out[j].ParentOrderID })
	return out
}

// PendingCount returns the number of queued placements.
func (m *BracketManager) PendingCount() int {
	return len(m.pending)
}

// Groups returns copies of every group, live first.
func (m *BracketManager) Groups() []domain.BracketGroup {
	out := make([]domain.BracketGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLive() != out[j].IsLive() {
			return out[i].IsLive()
		}
		return out[i].ParentOrderID < out[j].ParentOrderID
	})
	return out
}

// LiveCount returns the number of live groups.
func (m *BracketManager) LiveCount() int {
	n := 0
	for _, g := range m.groups {
		if g.IsLive() {
			n++
		}
	}
	return n
}

// Prune drops closed and cancelled groups.
func (m *BracketManager) Prune() {
	for parent, g := range m.groups {
		if !g.IsLive() {
			delete(m.groups, parent)
		}
	}
}

// LegRequest rebuilds the request for a leg of g at a new quantity.
func LegRequest(g *domain.BracketGroup, legID string, qty int64) (domain.OrderRequest, domain.OrderRole) {
	req := domain.OrderRequest{
		Contract:       g.Contract,
		Side:           domain.SideSell,
		Quantity:       qty,
		OCAGroup:       g.OCAGroup,
		GoodTillCancel: true,
	}
	if legID == g.StopOrderID {
		req.Kind = domain.OrderKindStop
		req.StopPrice = g.StopPrice
		return req, domain.RoleStopLoss
	}
	req.Kind = domain.OrderKindLimit
	req.LimitPrice = g.ProfitPrice
	return req, domain.RoleTakeProfit
}
