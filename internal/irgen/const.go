package irgen

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

func ConstInt(typ *types.IntType, v int64) *constant.Int { return constant.NewInt(typ, v) }

func ConstFloat(typ *types.FloatType, v float64) *constant.Float { return constant.NewFloat(typ, v) }

// ConstCString builds a NUL-terminated byte-array constant for a string
// literal's backing global (§4.5: "holds s bytes + terminator").
func ConstCString(s string) *constant.CharArray {
	return constant.NewCharArrayFromString(s + "\x00")
}

func ConstNull(typ *types.PointerType) *constant.Null { return constant.NewNull(typ) }

func ConstZero(typ types.Type) constant.Constant { return constant.NewZeroInitializer(typ) }
