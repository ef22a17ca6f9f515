package action

import (
	"math/big"
	"sort"
)

// Args holds arguments that passed schema validation. Addresses are
// checksummed strings and uint256 values are *big.Int.
type Args struct {
	values map[string]any
}

// Has reports whether the argument was supplied.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

// Address returns a checksummed address argument or "".
func (a Args) Address(name string) string {
	return a.String(name)
}

// BigInt returns a copy of a uint256 argument, nil when absent.
func (a Args) BigInt(name string) *big.Int {
	n, ok := a.values[name].(*big.Int)
	if !ok || n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

// Bool returns a boolean argument or false.
func (a Args) Bool(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Names returns the supplied argument names, sorted.
func (a Args) Names() []string {
	names := make([]string, 0, len(a.values))
	for name := range a.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map renders the arguments as JSON friendly values; amounts become
// decimal strings.
func (a Args) Map() map[string]any {
	out := make(map[string]any, len(a.values))
	for key, value := range a.values {
		if n, ok := value.(*big.Int); ok {
			out[key] = n.String()
			continue
		}
		out[key] = value
	}
	return out
}
