package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

var now = time.Date(2025, time.May, 20, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func monthsAgo(n int) time.Time { return now.AddDate(0, -n, 0) }

func newStudent(id string, total, paid int64, admission time.Time) *student.Student {
	return &student.Student{
		ID:            shared.StudentID("S-" + id),
		Name:          "Student " + id,
		AdmissionDate: admission,
		TotalFee:      d(total),
		Paid:          d(paid),
	}
}

func jan25() cycle.Cycle { return cycle.MustNew(time.January, 2025) }
func feb25() cycle.Cycle { return cycle.MustNew(time.February, 2025) }
