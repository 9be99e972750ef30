package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// ErrUnknownFeeStructure is returned for a course code with no template.
var ErrUnknownFeeStructure = shared.NewDomainError("fee_structure", "Find", shared.ErrNotFound, "fee structure not found")

// FeeCatalog is a read-only set of fee structure templates keyed by course code.
// Codes are matched case-insensitively.
type FeeCatalog struct {
	mu    sync.RWMutex
	items map[string]student.FeeStructure
}

// NewFeeCatalog creates an empty catalog.
func NewFeeCatalog() *FeeCatalog {
	return &FeeCatalog{items: make(map[string]student.FeeStructure)}
}

// Put validates and stores a template.
func (c *FeeCatalog) Put(code string, fs student.FeeStructure) error {
	key := normalizeCode(code)
	if key == "" {
		return shared.NewDomainError("fee_structure", "Put", shared.ErrInvalidInput, "course code is required")
	}
	if err := fs.Validate(); err != nil {
		return fmt.Errorf("fee structure %q: %w", code, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = fs
	return nil
}

// FeeStructure implements student.FeeStructureProvider.
func (c *FeeCatalog) FeeStructure(ctx context.Context, code string) (student.FeeStructure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fs, ok := c.items[normalizeCode(code)]
	if !ok {
		return student.FeeStructure{}, fmt.Errorf("%w: %q", ErrUnknownFeeStructure, code)
	}
	return fs, nil
}

// Len returns the number of templates.
func (c *FeeCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type feeItemFile struct {
	Label           string          `json:"label"`
	Amount          decimal.Decimal `json:"amount"`
	DueOffsetMonths int             `json:"due_offset_months"`
}

type feeStructureFile struct {
	Name  string        `json:"name"`
	Items []feeItemFile `json:"items"`
}

// LoadFeeCatalog reads a JSON object of code -> {name, items[]}.
func LoadFeeCatalog(path string) (*FeeCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee catalog: %w", err)
	}
	return ParseFeeCatalog(data)
}

// ParseFeeCatalog parses the JSON form read by LoadFeeCatalog.
func ParseFeeCatalog(data []byte) (*FeeCatalog, error) {
	var raw map[string]feeStructureFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fee catalog: %w", err)
	}

	catalog := NewFeeCatalog()
	for code, entry := range raw {
		fs := student.FeeStructure{Name: entry.Name}
		for _, item := range entry.Items {
			fs.Items = append(fs.Items, student.FeeItem{
				Label:           item.Label,
				Amount:          item.Amount,
				DueOffsetMonths: item.DueOffsetMonths,
			})
		}
		if err := catalog.Put(code, fs); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

var _ student.FeeStructureProvider = (*FeeCatalog)(nil)
