package action

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenMCP-WalletKit/internal/errors"
)

// Kind is the primitive kind of an argument.
type Kind string

const (
	// KindAddress is a 20-byte hex account address with 0x prefix.
	KindAddress Kind = "address"
	// KindUint256 is a non-negative integer in atomic units, at most 2^256-1.
	KindUint256 Kind = "uint256"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
)

const (
	// AddressPattern is the JSON schema pattern for KindAddress.
	AddressPattern = "^0x[0-9a-fA-F]{40}$"
	// Uint256Pattern is the JSON schema pattern for KindUint256.
	Uint256Pattern = "^[0-9]+$"
)

// maxSafeFloat 以内的 float64 可无损表示整数。
const maxSafeFloat = 1 << 53

// MaxUint256 is 2^256-1.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Field describes one named argument.
type Field struct {
	Name        string
	Description string
	Kind        Kind
	Required    bool
	// Enum 仅适用于 KindString。
	Enum []string
}

// Schema is the explicit structural validator of an action's arguments.
// Unknown fields are rejected.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: append([]Field(nil), fields...)}
}

// Field returns the field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Check reports structural problems in the schema itself.
func (s Schema) Check() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Kind {
		case KindAddress, KindUint256, KindBoolean:
			if len(f.Enum) > 0 {
				return fmt.Errorf("field %q: enum is only supported for strings", f.Name)
			}
		case KindString:
		default:
			return fmt.Errorf("field %q has unsupported kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

// JSONSchema translates the schema into the agent framework's JSON schema.
func (s Schema) JSONSchema() (*tool.JSONSchema, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	props := make(map[string]interface{}, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]interface{}{"type": "string"}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		switch f.Kind {
		case KindAddress:
			prop["pattern"] = AddressPattern
		case KindUint256:
			prop["pattern"] = Uint256Pattern
		case KindBoolean:
			prop["type"] = "boolean"
		case KindString:
			if len(f.Enum) > 0 {
				values := make([]interface{}, len(f.Enum))
				for i, v := range f.Enum {
					values[i] = v
				}
				prop["enum"] = values
			}
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return &tool.JSONSchema{Type: "object", Properties: props, Required: required}, nil
}

// Validate checks raw against the schema and returns normalized arguments:
// checksummed addresses and *big.Int amounts. Failures carry
// CodeValidationFailed.
func (s Schema) Validate(raw map[string]any) (Args, error) {
	js, err := s.JSONSchema()
	if err != nil {
		return Args{}, xerrors.Wrap(CodeInvalidDefinition, err, "schema is not usable")
	}

	normalized := make(map[string]any, len(raw))
	var unknown []string
	for key, value := range raw {
		field, ok := s.Field(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		coerced, err := coerce(field, value)
		if err != nil {
			return Args{}, invalid(fmt.Errorf("field %s: %w", key, err))
		}
		normalized[key] = coerced
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Args{}, invalid(fmt.Errorf("unknown field(s): %s", strings.Join(unknown, ", ")))
	}

	if err := (tool.DefaultValidator{}).Validate(normalized, js); err != nil {
		return Args{}, invalid(err)
	}

	values := make(map[string]any, len(normalized))
	for key, value := range normalized {
		field, _ := s.Field(key)
		typed, err := finalize(field, value)
		if err != nil {
			return Args{}, invalid(fmt.Errorf("field %s: %w", key, err))
		}
		values[key] = typed
	}
	return Args{values: values}, nil
}

func invalid(err error) error {
	return xerrors.Wrap(CodeValidationFailed, err, "invalid arguments")
}

// coerce 把数值类输入统一成十进制字符串，交给 JSON schema 校验。
func coerce(field Field, value any) (any, error) {
	switch field.Kind {
	case KindUint256:
		return coerceInteger(value)
	case KindAddress, KindString:
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s), nil
		}
	}
	return value, nil
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return coerceInteger(v.String())
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return v.String(), nil
	case big.Int:
		return v.String(), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, fmt.Errorf("expected an integer amount but got %v", v)
		}
		if math.Abs(v) > maxSafeFloat {
			return nil, fmt.Errorf("number %v is too large to be exact; pass the amount as a decimal string", v)
		}
		return strconv.FormatInt(int64(v), 10), nil
	}
	return value, nil
}

func finalize(field Field, value any) (any, error) {
	switch field.Kind {
	case KindAddress:
		addr := value.(string)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%q is not a valid address", addr)
		}
		checksummed := common.HexToAddress(addr).Hex()
		if isMixedCase(addr[2:]) && addr != checksummed {
			return nil, fmt.Errorf("%q has an invalid EIP-55 checksum", addr)
		}
		return checksummed, nil
	case KindUint256:
		n, ok := new(big.Int).SetString(value.(string), 10)
		if !ok {
			return nil, fmt.Errorf("%q is not a decimal integer", value)
		}
		if n.Cmp(MaxUint256) > 0 {
			return nil, fmt.Errorf("%s exceeds the uint256 range", value)
		}
		return n, nil
	}
	return value, nil
}

func isMixedCase(hex string) bool {
	return strings.ToLower(hex) != hex && strings.ToUpper(hex) != hex
}
