package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// HoldingsState sigue cuánto de cada token (en USD) sigue libre durante una optimización.
//
// Invariante: Used[s] <= Initial[s] + SwappedInto[s] para todo s.
// Un token figura en Swapped a partir del primer swap hacia él; el gas de
// "primer swap" se cobra una sola vez por token.
type HoldingsState struct {
	Initial     map[string]decimal.Decimal
	Used        map[string]decimal.Decimal
	SwappedInto map[string]decimal.Decimal
	Swapped     map[string]bool
}

// NewHoldingsState copia las tenencias iniciales (símbolo → USD).
func NewHoldingsState(initial map[string]decimal.Decimal) *HoldingsState {
	h := &HoldingsState{
		Initial:     make(map[string]decimal.Decimal, len(initial)),
		Used:        make(map[string]decimal.Decimal),
		SwappedInto: make(map[string]decimal.Decimal),
		Swapped:     make(map[string]bool),
	}
	for k, v := range initial {
		if v.IsPositive() {
			h.Initial[k] = v
		}
	}
	return h
}

// Available devuelve lo que queda libre de un token.
func (h *HoldingsState) Available(token string) decimal.Decimal {
	avail := h.Initial[token].Add(h.SwappedInto[token]).Sub(h.Used[token])
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// AvailableMap devuelve una copia de los saldos libres (solo los positivos).
func (h *HoldingsState) AvailableMap() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for token := range h.tokens() {
		if a := h.Available(token); a.IsPositive() {
			out[token] = a
		}
	}
	return out
}

// TotalAvailable suma todos los saldos libres.
func (h *HoldingsState) TotalAvailable() decimal.Decimal {
	total := decimal.Zero
	for _, v := range h.AvailableMap() {
		total = total.Add(v)
	}
	return total
}

// Deficit devuelve cuánto falta de un token para cubrir need.
func (h *HoldingsState) Deficit(token string, need decimal.Decimal) decimal.Decimal {
	d := need.Sub(h.Available(token))
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// SwapInto registra un swap de amount USD hacia target, consumiendo primero la
// fuente preferida y luego el resto de tokens con más saldo libre.
// Devuelve lo que realmente se pudo financiar.
func (h *HoldingsState) SwapInto(target string, amount decimal.Decimal, preferred string) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	remaining := amount
	for _, src := range h.sourceOrder(target, preferred) {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, h.Available(src))
		if !take.IsPositive() {
			continue
		}
		h.Used[src] = h.Used[src].Add(take)
		remaining = remaining.Sub(take)
	}

	funded := amount.Sub(remaining)
	if funded.IsPositive() {
		h.SwappedInto[target] = h.SwappedInto[target].Add(funded)
		h.Swapped[target] = true
	}
	return funded
}

// Consume marca como usado amount de token. Nunca consume más de lo disponible.
func (h *HoldingsState) Consume(token string, amount decimal.Decimal) decimal.Decimal {
	take := decimal.Min(amount, h.Available(token))
	if !take.IsPositive() {
		return decimal.Zero
	}
	h.Used[token] = h.Used[token].Add(take)
	return take
}

// CheckInvariant verifica que ningún token esté sobreconsumido.
func (h *HoldingsState) CheckInvariant() error {
	for token, used := range h.Used {
		limit := h.Initial[token].Add(h.SwappedInto[token])
		if used.GreaterThan(limit) {
			return fmt.Errorf("holdings: %s used %s exceeds %s", token, used, limit)
		}
	}
	return nil
}

// sourceOrder ordena los posibles orígenes de un swap: preferido primero,
// luego por saldo libre descendente y símbolo ascendente.
func (h *HoldingsState) sourceOrder(target, preferred string) []string {
	var others []string
	for token := range h.tokens() {
		if token == target || token == preferred {
			continue
		}
		others = append(others, token)
	}
	sort.Slice(others, func(i, j int) bool {
		ai, aj := h.Available(others[i]), h.Available(others[j])
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return others[i] < others[j]
	})
	if preferred != "" && preferred != target {
		return append([]string{preferred}, others...)
	}
	return others
}

func (h *HoldingsState) tokens() map[string]struct{} {
	set := make(map[string]struct{}, len(h.Initial)+len(h.SwappedInto))
	for k := range h.Initial {
		set[k] = struct{}{}
	}
	for k := range h.SwappedInto {
		set[k] = struct{}{}
	}
	return set
}
