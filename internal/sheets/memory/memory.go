// Package memory is an in-process sheets mirror used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"gigfin/internal/core"
	ports "gigfin/internal/sheets"
)

var _ ports.Mirror = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	incomes  [][]any
	expenses [][]any
}

func New() *Store {
	return &Store{}
}

// AppendIncome stores the rendered row and returns a synthetic row reference.
func (s *Store) AppendIncome(_ context.Context, e core.IncomeEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incomes = append(s.incomes, ports.IncomeRow(e))
	return fmt.Sprintf("mem:incomes:%d", len(s.incomes)), nil
}

func (s *Store) AppendExpense(_ context.Context, e core.ExpenseEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, ports.ExpenseRow(e))
	return fmt.Sprintf("mem:expenses:%d", len(s.expenses)), nil
}

// Rows returns copies of the appended rows.
func (s *Store) Rows() (incomes, expenses [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.incomes...), append([][]any(nil), s.expenses...)
}
