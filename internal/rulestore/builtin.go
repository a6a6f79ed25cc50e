package rulestore

import (
	_ "embed"
	"sync"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

//go:embed builtin.json
var builtinJSON []byte

var (
	builtinOnce  sync.Once
	builtinStore *Store
	builtinErr   error
)

// Builtin returns the embedded sample snapshot. It is used when no snapshot
// file is configured.
func Builtin() (*Store, error) {
	builtinOnce.Do(func() {
		var snap *domain.RuleSnapshot
		snap, builtinErr = Parse(builtinJSON, ".json")
		if builtinErr != nil {
			return
		}
		builtinStore, builtinErr = New(snap)
	})
	return builtinStore, builtinErr
}
