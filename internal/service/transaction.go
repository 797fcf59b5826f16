package service

import "context"

// TransactionManager scopes a unit of billing work to one database
// transaction. Entity mutations, audit entries and outbox rows written with
// the ctx passed to fn commit together. A nested call joins the outer
// transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
