package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища студентов.
// Все ошибки хранилища оборачиваются в shared.ErrPersistence.
type Repository interface {
	// Create сохраняет нового студента вместе с графиком взносов.
	// Возвращает shared.ErrStudentAlreadyExists, если ID занят.
	Create(ctx context.Context, student *Student) error

	// GetByID загружает студента с графиком взносов.
	// Возвращает shared.ErrUnknownStudent, если студент не найден.
	GetByID(ctx context.Context, id string) (*Student, error)

	// GetForUpdate загружает студента и блокирует запись до конца транзакции.
	// Вне транзакции ведёт себя как GetByID.
	GetForUpdate(ctx context.Context, id string) (*Student, error)

	// Save сохраняет поля, которыми владеет движок (оплата, цикл, статус,
	// график). Дата зачисления не перезаписывается.
	// Возвращает shared.ErrStaleStudent при несовпадении Version.
	Save(ctx context.Context, student *Student) error

	// List возвращает студентов с фильтрацией и пагинацией.
	List(ctx context.Context, opts ListOptions) ([]*Student, error)

	// Count возвращает количество студентов, удовлетворяющих фильтру.
	Count(ctx context.Context, opts ListOptions) (int, error)

	// Exists проверяет существование студента.
	Exists(ctx context.Context, id string) (bool, error)
}

// ListOptions содержит параметры фильтрации, пагинации и сортировки.
type ListOptions struct {
	// Offset - смещение (для пагинации).
	Offset int

	// Limit - максимальное количество записей. 0 - без ограничения.
	Limit int

	// SortBy - поле для сортировки: "name", "admission_date", "due".
	SortBy string

	// SortDesc - сортировка по убыванию.
	SortDesc bool

	// Search - подстрока имени или ID (без учёта регистра).
	Search string

	// IDs - ограничить выборку указанными студентами.
	IDs []string

	// OnlyWithDue - только студенты с ненулевым остатком.
	OnlyWithDue bool
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Offset: 0,
		Limit:  0,
		SortBy: "name",
	}
}

// WithOffset устанавливает смещение.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit устанавливает лимит.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}

// WithSort устанавливает сортировку.
func (o ListOptions) WithSort(field string, desc bool) ListOptions {
	o.SortBy = field
	o.SortDesc = desc
	return o
}

// WithSearch устанавливает поисковую строку.
func (o ListOptions) WithSearch(q string) ListOptions {
	o.Search = q
	return o
}

// WithIDs ограничивает выборку списком ID.
func (o ListOptions) WithIDs(ids ...string) ListOptions {
	o.IDs = ids
	return o
}

// WithDueOnly оставляет только должников.
func (o ListOptions) WithDueOnly() ListOptions {
	o.OnlyWithDue = true
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTORY & FEE STRUCTURE PROVIDERS
// Внешние источники данных, только чтение.
// ══════════════════════════════════════════════════════════════════════════════

// FeeStructureProvider отдаёт шаблоны стоимости по коду курса.
type FeeStructureProvider interface {
	// FeeStructure возвращает шаблон или shared.ErrNotFound.
	FeeStructure(ctx context.Context, code string) (FeeStructure, error)
}
