package policy

import (
	"crypto/rand"
	"fmt"
)

// KFragGenerator splits the owner's re-encryption capability for a policy into
// key fragments, one per proxy. Any m of them enable the recipient.
type KFragGenerator interface {
	Generate(policy *Policy, count int) ([][]byte, error)
}

// DefaultKFragSize is the size of the fragments of OpaqueKFragGenerator.
const DefaultKFragSize = 128

// OpaqueKFragGenerator produces random fragments of a fixed size. It stands
// in for a proxy re-encryption scheme: fragments are carried and stored like
// real ones but enable nothing.
type OpaqueKFragGenerator struct {
	Size int
}

// Generate implements KFragGenerator.
func (g OpaqueKFragGenerator) Generate(policy *Policy, count int) ([][]byte, error) {
	size := g.Size
	if size <= 0 {
		size = DefaultKFragSize
	}

	kfrags := make([][]byte, count)
	for i := range kfrags {
		kfrags[i] = make([]byte, size)
		if _, err := rand.Read(kfrags[i]); err != nil {
			return nil, fmt.Errorf("generating kfrag: %v", err)
		}
	}

	return kfrags, nil
}
