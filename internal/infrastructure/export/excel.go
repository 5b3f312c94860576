package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const (
	ExpensesSheet  = "Expenses"
	ApprovalsSheet = "Approvals"
)

var (
	expenseHeader  = []interface{}{"Expense ID", "Employee", "Email", "Category", "Description", "Expense Date", "Amount", "Currency", "Status", "Submitted At"}
	approvalHeader = []interface{}{"Expense ID", "Position", "Stage", "Approver", "Rule", "Status", "Comment", "Decided At"}
)

// ExcelExporter writes company expenses as an XLSX workbook with one sheet
// of expenses and one row per chain entry on a second sheet
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export writes the workbook to w. users maps user id to user for display
// names; unknown ids are written as-is.
func (e *ExcelExporter) Export(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExpensesSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(ApprovalsSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := f.SetSheetRow(ExpensesSheet, "A1", &expenseHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetSheetRow(ApprovalsSheet, "A1", &approvalHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	approvalRow := 2
	for i, exp := range expenses {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, email := exp.EmployeeID, ""
		if u, ok := users[exp.EmployeeID]; ok {
			name, email = u.Name, u.Email
		}

		amount, _ := exp.Amount.Float64()
		row := []interface{}{
			exp.ID,
			name,
			email,
			exp.Category,
			exp.Description,
			exp.ExpenseDate.Format("2006-01-02"),
			amount,
			exp.Currency,
			string(exp.Status),
			exp.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := e.setRow(f, ExpensesSheet, i+2, row); err != nil {
			return err
		}

		for pos, step := range exp.Approvals {
			approver := step.Approver
			if u, ok := users[step.Approver]; ok {
				approver = u.Name
			}
			decided := ""
			if step.DecisionDate != nil {
				decided = step.DecisionDate.Format("2006-01-02 15:04:05")
			}
			row := []interface{}{
				exp.ID,
				pos + 1,
				step.Stage,
				approver,
				string(step.RuleType),
				string(step.Status),
				step.Comment,
				decided,
			}
			if err := e.setRow(f, ApprovalsSheet, approvalRow, row); err != nil {
				return err
			}
			approvalRow++
		}
	}

	if err := f.SetColWidth(ExpensesSheet, "A", "A", 38); err != nil {
		e.logger.Warn("Failed to set column width", zap.Error(err))
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Expense workbook exported",
		zap.Int("expenses", len(expenses)),
		zap.Int("approval_rows", approvalRow-2))
	return nil
}

func (e *ExcelExporter) setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

var _ port.ExpenseExporter = (*ExcelExporter)(nil)
