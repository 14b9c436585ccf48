// Package txbuilder reconcilia posiciones actuales y objetivo en una lista
// ordenada de acciones on-chain que nunca gasta más de lo disponible.
//
// Orden fijo: burn → withdraw → swap → mint → supply. Cada paso solo usa
// fondos liberados por los anteriores; todas las cantidades son enteros en
// unidades mínimas del token.
package txbuilder

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/holiman/uint256"
)

// Options ajusta los márgenes del plan.
type Options struct {
	// SlippageBps descuenta el importe recibido en swaps y fija los mínimos de mint.
	SlippageBps uint64
	// BurnSlippageBps fija los mínimos al retirar liquidez.
	BurnSlippageBps uint64
	// EffectiveDecimals: decimales por debajo de los cuales una cantidad es polvo.
	EffectiveDecimals uint8
	// WithdrawMaxBps: retirar al menos esta fracción del supply se convierte en "max".
	WithdrawMaxBps uint64
}

// DefaultOptions devuelve 0.5% de slippage en swaps, 1% en burns, 6 decimales efectivos y max al 99.9%.
func DefaultOptions() Options {
	return Options{SlippageBps: 50, BurnSlippageBps: 100, EffectiveDecimals: 6, WithdrawMaxBps: 9990}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SlippageBps == 0 {
		o.SlippageBps = def.SlippageBps
	}
	if o.BurnSlippageBps == 0 {
		o.BurnSlippageBps = def.BurnSlippageBps
	}
	if o.EffectiveDecimals == 0 {
		o.EffectiveDecimals = def.EffectiveDecimals
	}
	if o.WithdrawMaxBps == 0 || o.WithdrawMaxBps > bpsDenominator {
		o.WithdrawMaxBps = def.WithdrawMaxBps
	}
	return o
}

// Reconcile produce el plan que lleva current a target. Si los fondos no
// alcanzan, las acciones se truncan a lo disponible: la falta de fondos no es un error.
// Los avisos van al logger de ctx.
func Reconcile(ctx context.Context, current, target domain.PositionSet, tokens domain.TokenRegistry, opts Options) []domain.Action {
	r := &reconciler{
		log:       logctx.From(ctx),
		tokens:    tokens,
		opts:      opts.withDefaults(),
		available: make(ledger),
	}
	return r.run(current, target)
}

type reconciler struct {
	log       *slog.Logger
	tokens    domain.TokenRegistry
	opts      Options
	available ledger
	actions   []domain.Action
}

func (r *reconciler) run(current, target domain.PositionSet) []domain.Action {
	for _, b := range current.Balances {
		r.available.credit(r.sym(b.Token), r.units(b.Token, b.Amount))
	}

	pendingLPs := r.burn(current.LPs, target.LPs)
	supplyNeeds := r.withdraw(current.Supplies, target.Supplies)
	r.swap(target.Balances, pendingLPs, supplyNeeds)
	r.mint(pendingLPs)
	r.supply(supplyNeeds)

	return r.actions
}

// lpTarget es una posición LP objetivo ya convertida a unidades mínimas.
type lpTarget struct {
	pos     domain.LPPosition
	amount0 *uint256.Int
	amount1 *uint256.Int
}

// supplyNeed es lo que falta depositar en un mercado (protocolo, token).
type supplyNeed struct {
	protocol string
	token    string
	amount   *uint256.Int
}

// burn retira toda posición actual que el objetivo no conserva idéntica y
// devuelve las posiciones objetivo que hay que acuñar.
func (r *reconciler) burn(current, target []domain.LPPosition) []lpTarget {
	targets := make(map[string]lpTarget, len(target))
	var order []string
	for _, t := range target {
		key := t.MatchKey()
		if _, dup := targets[key]; !dup {
			order = append(order, key)
		}
		targets[key] = lpTarget{
			pos:     t,
			amount0: r.units(t.Token0, t.Amount0),
			amount1: r.units(t.Token1, t.Amount1),
		}
	}

	kept := make(map[string]bool)
	for _, c := range current {
		a0, a1 := r.units(c.Token0, c.Amount0), r.units(c.Token1, c.Amount1)
		key := c.MatchKey()
		if t, ok := targets[key]; ok && !kept[key] && t.amount0.Eq(a0) && t.amount1.Eq(a1) {
			kept[key] = true
			continue
		}
		if a0.IsZero() && a1.IsZero() {
			continue
		}

		min0, min1 := applyBps(a0, r.opts.BurnSlippageBps), applyBps(a1, r.opts.BurnSlippageBps)
		r.actions = append(r.actions, domain.Action{
			Kind:        domain.ActionBurn,
			Protocol:    c.Protocol,
			PoolAddress: c.PoolAddress,
			PositionID:  c.PositionID,
			TickLower:   c.TickLower,
			TickUpper:   c.TickUpper,
			Token0:      c.Token0,
			Token1:      c.Token1,
			Amount0:     a0,
			Amount1:     a1,
			Amount0Min:  min0,
			Amount1Min:  min1,
		})
		// Solo se cuenta con el mínimo garantizado.
		r.available.credit(r.sym(c.Token0), min0)
		r.available.credit(r.sym(c.Token1), min1)
	}

	var pending []lpTarget
	for _, key := range order {
		if kept[key] {
			continue
		}
		pending = append(pending, targets[key])
	}
	return pending
}

// withdraw retira el exceso de cada supply actual y devuelve lo que falta depositar.
func (r *reconciler) withdraw(current, target []domain.SupplyPosition) []supplyNeed {
	key := func(p domain.SupplyPosition) string {
		return strings.ToLower(p.Protocol) + "|" + r.sym(p.Token)
	}

	cur := make(map[string]*uint256.Int, len(current))
	for _, c := range current {
		k := key(c)
		if v, ok := cur[k]; ok {
			cur[k] = new(uint256.Int).Add(v, r.units(c.Token, c.Amount))
			continue
		}
		cur[k] = r.units(c.Token, c.Amount)
	}
	tgt := make(map[string]*uint256.Int, len(target))
	for _, t := range target {
		k := key(t)
		if v, ok := tgt[k]; ok {
			tgt[k] = new(uint256.Int).Add(v, r.units(t.Token, t.Amount))
			continue
		}
		tgt[k] = r.units(t.Token, t.Amount)
	}

	seen := make(map[string]bool)
	for _, c := range current {
		k := key(c)
		if seen[k] {
			continue
		}
		seen[k] = true

		have := cur[k]
		want, ok := tgt[k]
		if !ok {
			want = new(uint256.Int)
		}
		if !have.Gt(want) {
			continue
		}

		diff := new(uint256.Int).Sub(have, want)
		threshold, _ := new(uint256.Int).MulDivOverflow(have, uint256.NewInt(r.opts.WithdrawMaxBps), bpsDen)
		full := want.IsZero() || !diff.Lt(threshold)
		amount := diff
		if full {
			amount = have.Clone()
		}

		r.actions = append(r.actions, domain.Action{
			Kind:     domain.ActionWithdraw,
			Protocol: c.Protocol,
			Token:    c.Token,
			Amount:   amount,
			Max:      full,
		})
		r.available.credit(r.sym(c.Token), amount)
		if full {
			// El resto queda a cero; lo que el objetivo pida se vuelve a depositar.
			cur[k] = new(uint256.Int)
		} else {
			cur[k] = want.Clone()
		}
	}

	var needs []supplyNeed
	added := make(map[string]bool)
	for _, t := range target {
		k := key(t)
		if added[k] {
			continue
		}
		added[k] = true

		have, ok := cur[k]
		if !ok {
			have = new(uint256.Int)
		}
		want := tgt[k]
		if !want.Gt(have) {
			continue
		}
		needs = append(needs, supplyNeed{
			protocol: t.Protocol,
			token:    t.Token,
			amount:   new(uint256.Int).Sub(want, have),
		})
	}
	return needs
}

// swap cubre los déficits de tokens con el excedente de otros tokens.
func (r *reconciler) swap(reserve []domain.TokenBalance, lps []lpTarget, supplies []supplyNeed) {
	required := make(ledger)
	for _, b := range reserve {
		required.credit(r.sym(b.Token), r.units(b.Token, b.Amount))
	}
	for _, lp := range lps {
		required.credit(r.sym(lp.pos.Token0), lp.amount0)
		required.credit(r.sym(lp.pos.Token1), lp.amount1)
	}
	for _, s := range supplies {
		required.credit(r.sym(s.token), s.amount)
	}

	var deficits []string
	for token, need := range required {
		if need.Gt(r.available.get(token)) {
			deficits = append(deficits, token)
		}
	}
	sort.Strings(deficits)

	for _, out := range deficits {
		outInfo, ok := r.tokens.Lookup(out)
		if !ok {
			r.log.Warn("txbuilder: cannot swap into unknown token", "token", out)
			continue
		}
		missing := new(uint256.Int).Sub(required.get(out), r.available.get(out))

		for _, in := range r.surplusSources(required) {
			if missing.IsZero() {
				break
			}
			if in == out {
				continue
			}
			inInfo, ok := r.tokens.Lookup(in)
			if !ok {
				continue
			}
			surplus := new(uint256.Int).Sub(r.available.get(in), required.get(in))

			want, ok := convert(grossUp(missing, r.opts.SlippageBps), outInfo, inInfo)
			if !ok {
				r.log.Warn("txbuilder: missing price for swap", "token_in", in, "token_out", out)
				continue
			}
			// Redondeo hacia arriba (1 unidad mínima y luego a la unidad efectiva)
			// para que la conversión de vuelta cubra el déficit completo.
			unit := dustUnit(inInfo.Decimals, r.opts.EffectiveDecimals)
			want.AddUint64(want, 1)
			want = truncateDust(new(uint256.Int).Add(want, new(uint256.Int).Sub(unit, uint256.NewInt(1))), unit)
			amountIn := truncateDust(minU(want, surplus), unit)
			if amountIn.IsZero() {
				continue
			}

			quoted, ok := convert(amountIn, inInfo, outInfo)
			if !ok {
				continue
			}
			minOut := applyBps(quoted, r.opts.SlippageBps)

			r.actions = append(r.actions, domain.Action{
				Kind:         domain.ActionSwap,
				TokenIn:      in,
				TokenOut:     out,
				AmountIn:     amountIn,
				AmountOutMin: minOut,
			})
			r.available.debit(in, amountIn)
			r.available.credit(out, minOut)

			if minOut.Lt(missing) {
				missing = new(uint256.Int).Sub(missing, minOut)
			} else {
				missing = new(uint256.Int)
			}
			// Un resto por debajo de la unidad efectiva es redondeo, no déficit.
			if missing.Lt(dustUnit(outInfo.Decimals, r.opts.EffectiveDecimals)) {
				missing = new(uint256.Int)
			}
		}

		if !missing.IsZero() {
			r.log.Warn("txbuilder: deficit not fully covered", "token", out, "missing", missing.Dec())
		}
	}
}

// surplusSources devuelve los tokens con saldo por encima de lo requerido,
// ordenados por excedente en USD descendente y símbolo.
func (r *reconciler) surplusSources(required ledger) []string {
	type src struct {
		token string
		usd   *uint256.Int
	}
	var out []src
	for token, avail := range r.available {
		need := required.get(token)
		if !avail.Gt(need) {
			continue
		}
		info, ok := r.tokens.Lookup(token)
		if !ok {
			continue
		}
		surplus := new(uint256.Int).Sub(avail, need)
		usd, _ := new(uint256.Int).MulDivOverflow(surplus, priceUnits(info.PriceUSD), pow10(info.Decimals))
		out = append(out, src{token: token, usd: usd})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].usd.Cmp(out[j].usd); c != 0 {
			return c > 0
		}
		return out[i].token < out[j].token
	})
	tokens := make([]string, len(out))
	for i, s := range out {
		tokens[i] = s.token
	}
	return tokens
}

func (r *reconciler) mint(lps []lpTarget) {
	for _, lp := range lps {
		a0 := r.available.debit(r.sym(lp.pos.Token0), lp.amount0)
		a1 := r.available.debit(r.sym(lp.pos.Token1), lp.amount1)
		if a0.IsZero() && a1.IsZero() {
			r.log.Warn("txbuilder: nothing available to mint", "pool", lp.pos.PoolAddress)
			continue
		}
		if a0.Lt(lp.amount0) || a1.Lt(lp.amount1) {
			r.log.Warn("txbuilder: mint under-funded",
				"pool", lp.pos.PoolAddress,
				"amount0", a0.Dec(), "want0", lp.amount0.Dec(),
				"amount1", a1.Dec(), "want1", lp.amount1.Dec(),
			)
		}
		r.actions = append(r.actions, domain.Action{
			Kind:        domain.ActionMint,
			Protocol:    lp.pos.Protocol,
			PoolAddress: lp.pos.PoolAddress,
			TickLower:   lp.pos.TickLower,
			TickUpper:   lp.pos.TickUpper,
			Token0:      lp.pos.Token0,
			Token1:      lp.pos.Token1,
			Amount0:     a0,
			Amount1:     a1,
			Amount0Min:  applyBps(a0, r.opts.SlippageBps),
			Amount1Min:  applyBps(a1, r.opts.SlippageBps),
		})
	}
}

func (r *reconciler) supply(needs []supplyNeed) {
	for _, n := range needs {
		amount := r.available.debit(r.sym(n.token), n.amount)
		if amount.IsZero() {
			r.log.Warn("txbuilder: nothing available to supply", "protocol", n.protocol, "token", n.token)
			continue
		}
		r.actions = append(r.actions, domain.Action{
			Kind:     domain.ActionSupply,
			Protocol: n.protocol,
			Token:    n.token,
			Amount:   amount,
		})
	}
}

// units convierte una cantidad humana de token a unidades mínimas. Un token
// fuera del registro no se puede convertir y cuenta como cero.
func (r *reconciler) units(token, amount string) *uint256.Int {
	info, ok := r.tokens.Lookup(token)
	if !ok {
		if amount != "" && amount != "0" {
			r.log.Warn("txbuilder: unknown token, amount ignored", "token", token, "amount", amount)
		}
		return new(uint256.Int)
	}
	return toUnits(amount, info, r.opts.EffectiveDecimals)
}

// sym es la clave canónica de un token en el ledger: el símbolo del registro,
// de modo que "usdc" y "USDC" comparten saldo.
func (r *reconciler) sym(token string) string {
	if info, ok := r.tokens.Lookup(token); ok && info.Symbol != "" {
		return info.Symbol
	}
	return strings.ToUpper(token)
}

// ledger lleva saldos por token en unidades mínimas. Los débitos nunca dejan un saldo negativo.
type ledger map[string]*uint256.Int

func (l ledger) get(token string) *uint256.Int {
	if v, ok := l[token]; ok {
		return v
	}
	return new(uint256.Int)
}

func (l ledger) credit(token string, v *uint256.Int) {
	if v == nil || v.IsZero() {
		return
	}
	l[token] = new(uint256.Int).Add(l.get(token), v)
}

// debit resta hasta v del saldo y devuelve lo efectivamente restado.
func (l ledger) debit(token string, v *uint256.Int) *uint256.Int {
	take := minU(v, l.get(token))
	if take.IsZero() {
		return take
	}
	l[token] = new(uint256.Int).Sub(l.get(token), take)
	return take
}
