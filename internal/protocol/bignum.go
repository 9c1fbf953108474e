package protocol

import "math/big"

// bigIntAlias is a small alias so primitives.go reads naturally; the NBASE
// decomposition/composition helpers only need big.Int arithmetic.
type bigIntAlias = big.Int

var big10000 = big.NewInt(10000)

func bigIntFromUint16(v uint16) *big.Int {
	return big.NewInt(int64(v))
}

// pow10 returns 10^n as a *big.Int.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
