// Package domain defines the canonical shelter, alert and user model shared by
// the realtime service and its storage backends.
//
// It owns the merge rules for partial shelter updates, the ordering check that
// keeps late updates from regressing state, the forward-only alert lifecycle
// and the role rules that decide who may change what. Nothing in this package
// performs I/O.
package domain
