package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// 250 位掩码（sn_keccak）
	mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	two128  = new(big.Int).Lsh(big.NewInt(1), 128)
	two256  = new(big.Int).Lsh(big.NewInt(1), 256)
	// Stark 域素数 P = 2^251 + 17·2^192 + 1
	fieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
)

// ratioScale 0-1 比例在链上以基点表示
const ratioScale = 10000

// Selector 入口选择器：keccak256 取低 250 位
func Selector(entrypoint string) string {
	h := new(big.Int).SetBytes(crypto.Keccak256([]byte(entrypoint)))
	return hexutil.EncodeBig(h.And(h, mask250))
}

func FeltFromUint64(v uint64) string {
	return hexutil.EncodeUint64(v)
}

func FeltFromBool(v bool) string {
	if v {
		return "0x1"
	}
	return "0x0"
}

// ParseFelt 接受带前导零的十六进制
func ParseFelt(s string) (*big.Int, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw == "" {
		return nil, errors.Errorf("empty felt %q", s)
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, errors.Errorf("invalid felt %q", s)
	}
	if v.Cmp(fieldPrime) >= 0 {
		return nil, errors.Errorf("felt %q out of field", s)
	}
	return v, nil
}

// NormalizeAddress 地址统一为小写、无前导零
func NormalizeAddress(addr string) (string, error) {
	v, err := ParseFelt(addr)
	if err != nil {
		return "", errors.Wrap(err, "invalid address")
	}
	if v.Sign() == 0 {
		return "", errors.New("zero address")
	}
	return hexutil.EncodeBig(v), nil
}

// SplitU256 拆分为 (low, high) 两个 felt
func SplitU256(amount decimal.Decimal) (low, high string, err error) {
	if !amount.IsInteger() || amount.IsNegative() {
		return "", "", errors.Errorf("amount %s is not a non-negative integer", amount)
	}
	v := amount.BigInt()
	if v.Cmp(two256) >= 0 {
		return "", "", errors.Errorf("amount %s overflows u256", amount)
	}
	h, l := new(big.Int).QuoRem(v, two128, new(big.Int))
	return hexutil.EncodeBig(l), hexutil.EncodeBig(h), nil
}

func JoinU256(low, high string) (decimal.Decimal, error) {
	l, err := ParseFelt(low)
	if err != nil {
		return decimal.Zero, err
	}
	h, err := ParseFelt(high)
	if err != nil {
		return decimal.Zero, err
	}
	if l.Cmp(two128) >= 0 || h.Cmp(two128) >= 0 {
		return decimal.Zero, errors.New("u256 limb exceeds 128 bits")
	}
	v := new(big.Int).Add(new(big.Int).Mul(h, two128), l)
	return decimal.NewFromBigInt(v, 0), nil
}

// ShortString Cairo 短字符串：最多 31 个 ASCII 字符
func ShortString(s string) (string, error) {
	if len(s) > 31 {
		return "", errors.Errorf("short string %q longer than 31 bytes", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return "", errors.Errorf("short string %q is not ascii", s)
		}
	}
	return hexutil.EncodeBig(new(big.Int).SetBytes([]byte(s))), nil
}

// TruncatedShortString 超长时截断，用于展示类字段（名称）
func TruncatedShortString(s string) string {
	b := make([]byte, 0, 31)
	for i := 0; i < len(s) && len(b) < 31; i++ {
		if s[i] <= 0x7f {
			b = append(b, s[i])
		}
	}
	return hexutil.EncodeBig(new(big.Int).SetBytes(b))
}

func DecodeShortString(felt string) (string, error) {
	v, err := ParseFelt(felt)
	if err != nil {
		return "", err
	}
	return string(v.Bytes()), nil
}

// RatioToFelt 0-1 比例转基点
func RatioToFelt(r float64) (string, error) {
	if r < 0 || r > 1 {
		return "", errors.Errorf("ratio %v out of [0,1]", r)
	}
	bps := decimal.NewFromFloat(r).Mul(decimal.NewFromInt(ratioScale)).Round(0)
	return FeltFromUint64(uint64(bps.IntPart())), nil
}

func FeltToRatio(felt string) (float64, error) {
	v, err := ParseFelt(felt)
	if err != nil {
		return 0, err
	}
	f, _ := decimal.NewFromBigInt(v, 0).Div(decimal.NewFromInt(ratioScale)).Float64()
	return f, nil
}

func FeltToUint64(felt string) (uint64, error) {
	v, err := ParseFelt(felt)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Errorf("felt %s overflows u64", felt)
	}
	return v.Uint64(), nil
}

func FeltToBool(felt string) (bool, error) {
	v, err := FeltToUint64(felt)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
