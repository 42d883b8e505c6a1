// Package repository provides data access layer implementations.
// Every repository runs against a db.DBTX; WithTx rebinds it to a ledger transaction.
package repository

import "errors"

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrActivityNotFound    = errors.New("activity record not found")
	ErrAlreadyCredited     = errors.New("activity already credited")
	ErrEdgeNotFound        = errors.New("referral edge not found")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrDuplicateSlug       = errors.New("product slug already exists")
	ErrTaskNotFound        = errors.New("task not found")
	ErrAdNotFound          = errors.New("advertisement not found")
	ErrJobNotFound         = errors.New("commission job not found")
)
