// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
)

// Type is the on-disk tag identifying a value's type.  Gaps in the
// numbering are tags reserved for types this package does not store.
type Type uint8

const (
	TypeInvalid      Type = 0
	TypeBool         Type = 1
	TypeUChar        Type = 2
	TypeInt          Type = 3
	TypeUInt         Type = 4
	TypeInt64        Type = 5
	TypeUInt64       Type = 6
	TypeFloat        Type = 8
	TypeDouble       Type = 9
	TypeString       Type = 10
	TypeToken        Type = 11
	TypeAssetPath    Type = 12
	TypeMatrix2d     Type = 13
	TypeMatrix3d     Type = 14
	TypeMatrix4d     Type = 15
	TypeVec2d        Type = 19
	TypeVec2f        Type = 20
	TypeVec2i        Type = 22
	TypeVec3d        Type = 23
	TypeVec3f        Type = 24
	TypeVec3i        Type = 26
	TypeVec4d        Type = 27
	TypeVec4f        Type = 28
	TypeVec4i        Type = 30
	TypeDictionary   Type = 31
	TypeTokenListOp  Type = 32
	TypePathListOp   Type = 34
	TypePathVector   Type = 40
	TypeTokenVector  Type = 41
	TypeSpecifier    Type = 42
	TypePermission   Type = 43
	TypeVariability  Type = 44
	TypeTimeSamples  Type = 46
	TypeDoubleVector Type = 48
	TypeStringVector Type = 50
	TypeValueBlock   Type = 51
	TypeTimeCode     Type = 56
)

var typeNames = map[Type]string{
	TypeInvalid:      "Invalid",
	TypeBool:         "Bool",
	TypeUChar:        "UChar",
	TypeInt:          "Int",
	TypeUInt:         "UInt",
	TypeInt64:        "Int64",
	TypeUInt64:       "UInt64",
	TypeFloat:        "Float",
	TypeDouble:       "Double",
	TypeString:       "String",
	TypeToken:        "Token",
	TypeAssetPath:    "AssetPath",
	TypeMatrix2d:     "Matrix2d",
	TypeMatrix3d:     "Matrix3d",
	TypeMatrix4d:     "Matrix4d",
	TypeVec2d:        "Vec2d",
	TypeVec2f:        "Vec2f",
	TypeVec2i:        "Vec2i",
	TypeVec3d:        "Vec3d",
	TypeVec3f:        "Vec3f",
	TypeVec3i:        "Vec3i",
	TypeVec4d:        "Vec4d",
	TypeVec4f:        "Vec4f",
	TypeVec4i:        "Vec4i",
	TypeDictionary:   "Dictionary",
	TypeTokenListOp:  "TokenListOp",
	TypePathListOp:   "PathListOp",
	TypePathVector:   "PathVector",
	TypeTokenVector:  "TokenVector",
	TypeSpecifier:    "Specifier",
	TypePermission:   "Permission",
	TypeVariability:  "Variability",
	TypeTimeSamples:  "TimeSamples",
	TypeDoubleVector: "DoubleVector",
	TypeStringVector: "StringVector",
	TypeValueBlock:   "ValueBlock",
	TypeTimeCode:     "TimeCode",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// SpecKind classifies a spec.
type SpecKind uint32

const (
	SpecUnknown SpecKind = iota
	SpecAttribute
	SpecConnection
	SpecExpression
	SpecMapper
	SpecMapperArg
	SpecPrim
	SpecPseudoRoot
	SpecRelationship
	SpecRelationshipTarget
	SpecVariant
	SpecVariantSet

	numSpecKinds
)

var specKindNames = [...]string{
	"Unknown",
	"Attribute",
	"Connection",
	"Expression",
	"Mapper",
	"MapperArg",
	"Prim",
	"PseudoRoot",
	"Relationship",
	"RelationshipTarget",
	"Variant",
	"VariantSet",
}

func (k SpecKind) String() string {
	if k < numSpecKinds {
		return specKindNames[k]
	}
	return fmt.Sprintf("SpecKind(%d)", uint32(k))
}

// Field is a named value attached to a spec.
type Field struct {
	Name  Token
	Value any
}

// Value types.  Go scalars map directly: bool (Bool), uint8 (UChar),
// int32 (Int), uint32 (UInt), int64 (Int64), uint64 (UInt64), float32
// (Float), float64 (Double) and string (String).  Slices of any scalar,
// vector or matrix type, of Token, string or AssetPath, or the equivalent
// Array, are stored as arrays.
type (
	Token       string
	AssetPath   string
	TimeCode    float64
	Specifier   int32
	Permission  int32
	Variability int32

	// ValueBlock marks a value that is explicitly blocked.
	ValueBlock struct{}

	Vec2f [2]float32
	Vec3f [3]float32
	Vec4f [4]float32
	Vec2d [2]float64
	Vec3d [3]float64
	Vec4d [4]float64
	Vec2i [2]int32
	Vec3i [3]int32
	Vec4i [4]int32

	// Matrices are stored row-major.
	Matrix2d [4]float64
	Matrix3d [9]float64
	Matrix4d [16]float64

	Dictionary   map[string]any
	TokenVector  []Token
	StringVector []string
	PathVector   []Path
	DoubleVector []float64
)

const (
	SpecifierDef Specifier = iota
	SpecifierOver
	SpecifierClass
)

const (
	PermissionPublic Permission = iota
	PermissionPrivate
)

const (
	VariabilityVarying Variability = iota
	VariabilityUniform
)

// ListOp is an ordered edit list of tokens or paths.
type ListOp[T Token | Path] struct {
	Explicit  bool
	Items     []T // explicit items
	Added     []T
	Prepended []T
	Appended  []T
	Deleted   []T
	Ordered   []T
}

type (
	TokenListOp = ListOp[Token]
	PathListOp  = ListOp[Path]
)

// RawValue is a value still in its packed form in the store it was read
// from.  Writers updating that same store write it back by reference.
type RawValue struct {
	Rep   ValueRep
	store *Store
}

// packedValue is a value already written by the current session.
type packedValue ValueRep
