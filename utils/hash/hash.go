package hash

import (
	"hash"

	"github.com/davecgh/go-spew/spew"
)

// spewConfig prints nested values deterministically: map keys sorted,
// methods ignored, pointers followed without their addresses. Two deeply
// equal objects print identically even when allocated separately.
var spewConfig = &spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// DeepHashObject resets hasher and writes obj's deep value into it.
func DeepHashObject(hasher hash.Hash, obj interface{}) {
	hasher.Reset()
	spewConfig.Fprintf(hasher, "%#v", obj)
}
