// Package command содержит операции записи (CQRS - Commands) над леджером:
// зачисление студента, запись платежа и перевод группы студентов в новый цикл.
//
// Каждая мутация одного студента выполняется под блокировкой этого студента
// и в отдельной единице работы (ledger.UnitOfWork). События публикуются
// только после успешного Commit.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
	"github.com/academy-hub/tuition-ledger/pkg/retry"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// DefaultLockTimeout - сколько ждать блокировку студента.
const DefaultLockTimeout = 10 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies - общие зависимости обработчиков команд.
type Dependencies struct {
	// UnitOfWork открывает транзакцию на одного студента. Обязателен.
	UnitOfWork ledger.UnitOfWorkFactory

	// Locker сериализует мутации одного студента. nil - без блокировки,
	// тогда остаётся только проверка версии в хранилище.
	Locker ledger.Locker

	// Engine применяет платежи и переводы. Обязателен.
	Engine *ledger.Engine

	// Cache - кэш снимков леджера. После Commit в него пишется свежий снимок.
	// Необязателен.
	Cache ledger.SnapshotCache

	// CacheTTL - время жизни снимка. <= 0 - по умолчанию кэша.
	CacheTTL time.Duration

	// Events получает доменные события. nil - события отбрасываются.
	Events shared.EventPublisher

	// Logger для структурированных логов.
	Logger *logger.Logger
}

func (d Dependencies) normalized() Dependencies {
	if d.Locker == nil {
		d.Locker = noLock{}
	}
	if d.Events == nil {
		d.Events = shared.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// Clock возвращает текущее время. В тестах подменяется.
type Clock func() time.Time

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return timeutil.Now
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// SCOPED WRITE
// ══════════════════════════════════════════════════════════════════════════════

// studentTx выполняет fn под блокировкой студента в одной единице работы.
// Ошибка fn или Commit откатывает всё. Конфликт версий (запись без
// блокировки из другого процесса) повторяется целиком, fn должна быть
// повторяемой.
type studentTx struct {
	uows        ledger.UnitOfWorkFactory
	locker      ledger.Locker
	lockTimeout time.Duration
	retrier     *retry.Retrier
}

func newStudentTx(d Dependencies, lockTimeout time.Duration) studentTx {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return studentTx{
		uows:        d.UnitOfWork,
		locker:      d.Locker,
		lockTimeout: lockTimeout,
		retrier:     retry.ConflictRetrier(isStaleWrite),
	}
}

// isStaleWrite - ожидание блокировки не повторяем: его уже ограничил lockTimeout.
func isStaleWrite(err error) bool {
	return errors.Is(err, shared.ErrOptimisticLock) || errors.Is(err, shared.ErrConcurrentModification)
}

func (t studentTx) run(ctx context.Context, studentID string, fn func(uow ledger.UnitOfWork) error) error {
	return t.retrier.Do(ctx, func(ctx context.Context) error {
		return t.attempt(ctx, studentID, fn)
	})
}

func (t studentTx) attempt(ctx context.Context, studentID string, fn func(uow ledger.UnitOfWork) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, t.lockTimeout)
	unlock, err := t.locker.Lock(lockCtx, studentID)
	cancel()
	if err != nil {
		return err
	}
	defer unlock()

	return t.uows.WithTx(ctx, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// snapshotWriter кладёт в кэш снимки после Commit. Кэш оставляет снимок с
// большей версией, поэтому запрос, прочитавший строку до Commit, не
// перезапишет свежий снимок старым. Ошибка кэша не влияет на результат.
type snapshotWriter struct {
	cache ledger.SnapshotCache
	ttl   time.Duration
	log   *logger.Logger
}

func newSnapshotWriter(d Dependencies, log *logger.Logger) snapshotWriter {
	return snapshotWriter{cache: d.Cache, ttl: d.CacheTTL, log: log}
}

// put сохраняет снимки. Снимок, который не удалось записать, удаляется,
// чтобы в кэше не осталась предыдущая версия.
func (w snapshotWriter) put(ctx context.Context, snaps ...ledger.Snapshot) {
	if w.cache == nil {
		return
	}
	for _, snap := range snaps {
		id := snap.StudentID.String()
		err := w.cache.Set(ctx, snap, w.ttl)
		if err == nil {
			continue
		}
		w.log.Warn("snapshot cache write failed", logger.StudentID(id), logger.Err(err))
		w.invalidate(ctx, id)
	}
}

// invalidate удаляет снимки.
func (w snapshotWriter) invalidate(ctx context.Context, ids ...string) {
	if w.cache == nil || len(ids) == 0 {
		return
	}
	if err := w.cache.Invalidate(ctx, ids...); err != nil {
		w.log.Warn("snapshot cache invalidation failed", logger.Count("students", len(ids)), logger.Err(err))
	}
}

func publish(events shared.EventPublisher, log *logger.Logger, evts ...shared.Event) {
	for _, e := range evts {
		if err := events.Publish(e); err != nil {
			log.Warn("event publish failed",
				logger.String("event_type", string(e.EventType())),
				logger.StudentID(e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct проверяет теги `validate` команды и сводит нарушения
// в одну ошибку вида shared.ErrValidation.
func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, describeField(fe))
		}
		return shared.NewDomainError("command", op, shared.ErrValidation,
			"invalid command: "+strings.Join(fields, "; "))
	}
	return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
}

func describeField(fe validator.FieldError) string {
	name := fe.Namespace()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
