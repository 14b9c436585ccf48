package txbuilder

import (
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	bpsDenominator = 10_000
	priceScale     = 8 // los precios USD se convierten a enteros con 8 decimales
)

var bpsDen = uint256.NewInt(bpsDenominator)

// pow10 devuelve 10^n como uint256.
func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// dustUnit es la unidad mínima efectiva de un token: con más de effective
// decimales, todo lo que esté por debajo de 10^(decimals-effective) es polvo.
func dustUnit(decimals, effective uint8) *uint256.Int {
	if decimals <= effective {
		return uint256.NewInt(1)
	}
	return pow10(decimals - effective)
}

// toUnits convierte una cantidad humana (string decimal) a unidades mínimas,
// truncando el polvo. Valores inválidos o negativos son cero.
func toUnits(amount string, info domain.TokenInfo, effective uint8) *uint256.Int {
	if amount == "" {
		return new(uint256.Int)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return new(uint256.Int)
	}
	u, overflow := uint256.FromBig(d.Shift(int32(info.Decimals)).Truncate(0).BigInt())
	if overflow {
		return new(uint256.Int)
	}
	return truncateDust(u, dustUnit(info.Decimals, effective))
}

func truncateDust(v, unit *uint256.Int) *uint256.Int {
	if unit.IsZero() || unit.Eq(uint256.NewInt(1)) {
		return v
	}
	out := new(uint256.Int).Div(v, unit)
	return out.Mul(out, unit)
}

// priceUnits escala un precio USD a entero con priceScale decimales.
func priceUnits(price decimal.Decimal) *uint256.Int {
	if !price.IsPositive() {
		return new(uint256.Int)
	}
	u, overflow := uint256.FromBig(price.Shift(priceScale).Truncate(0).BigInt())
	if overflow {
		return new(uint256.Int)
	}
	return u
}

// convert pasa amount de from a to por precio USD:
// amount · priceFrom · 10^decTo / (priceTo · 10^decFrom).
func convert(amount *uint256.Int, from, to domain.TokenInfo) (*uint256.Int, bool) {
	pf, pt := priceUnits(from.PriceUSD), priceUnits(to.PriceUSD)
	if pf.IsZero() || pt.IsZero() {
		return nil, false
	}
	num := new(uint256.Int).Mul(pf, pow10(to.Decimals))
	den := new(uint256.Int).Mul(pt, pow10(from.Decimals))
	out, overflow := new(uint256.Int).MulDivOverflow(amount, num, den)
	if overflow {
		return nil, false
	}
	return out, true
}

// applyBps devuelve v · (10000 - bps) / 10000.
func applyBps(v *uint256.Int, bps uint64) *uint256.Int {
	if bps >= bpsDenominator {
		return new(uint256.Int)
	}
	out, _ := new(uint256.Int).MulDivOverflow(v, uint256.NewInt(bpsDenominator-bps), bpsDen)
	return out
}

// grossUp devuelve ⌈v · 10000 / (10000 - bps)⌉: lo que hay que enviar para recibir v tras el descuento.
func grossUp(v *uint256.Int, bps uint64) *uint256.Int {
	if bps >= bpsDenominator {
		return v.Clone()
	}
	d := uint256.NewInt(bpsDenominator - bps)
	out, _ := new(uint256.Int).MulDivOverflow(v, bpsDen, d)
	back := new(uint256.Int).Mul(out, d)
	if back.Lt(new(uint256.Int).Mul(v, bpsDen)) {
		out.AddUint64(out, 1)
	}
	return out
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
