// Package kv is the storage layer under the launchpad registry. Backends
// live in pkg/kv/memory and pkg/kv/redis and register themselves when
// imported:
//
//	import _ "github.com/leafsii/launchpad/pkg/kv/memory"
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//
// kvtest holds the conformance suite every backend must pass.
package kv
