package service

import (
	"cryptra/internal/pkg/db"
	"cryptra/internal/repository"
)

// Stores bundles the repositories the services read and write. Each one is
// bound to the pool; services rebind them with WithTx inside a transaction.
type Stores struct {
	Users        *repository.UserRepository
	Transactions *repository.TransactionRepository
	Activity     *repository.ActivityRepository
	Referrals    *repository.ReferralRepository
	Withdrawals  *repository.WithdrawalRepository
	Products     *repository.ProductRepository
	Catalogue    *repository.CatalogueRepository
	Commissions  *repository.CommissionRepository
	Stats        *repository.StatsRepository
}

// NewStores binds every repository to conn.
func NewStores(conn db.DBTX) Stores {
	return Stores{
		Users:        repository.NewUserRepository(conn),
		Transactions: repository.NewTransactionRepository(conn),
		Activity:     repository.NewActivityRepository(conn),
		Referrals:    repository.NewReferralRepository(conn),
		Withdrawals:  repository.NewWithdrawalRepository(conn),
		Products:     repository.NewProductRepository(conn),
		Catalogue:    repository.NewCatalogueRepository(conn),
		Commissions:  repository.NewCommissionRepository(conn),
		Stats:        repository.NewStatsRepository(conn),
	}
}
