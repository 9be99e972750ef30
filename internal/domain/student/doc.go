// Package student содержит доменную модель студента академии в части,
// которая касается оплаты обучения.
//
// Пакет определяет:
//
//   - Сущность Student: итоговая стоимость, оплачено, текущий биллинговый цикл
//   - InstallmentPlan: упорядоченный график взносов, привязанных к циклам
//   - FeeStructure: шаблон взносов, по которому план заполняется при зачислении
//   - Интерфейсы: Repository, FeeStructureProvider
//
// # Правила
//
// Дата зачисления (AdmissionDate) неизменна после создания. Поля TotalFee,
// Paid, CycleLabel и StatusLabel меняются только через пакет ledger:
// ledger.ApplyCredit увеличивает Paid, ledger.Promote меняет цикл.
// Никакая операция не уменьшает Paid или TotalFee.
//
// Флаг Installment.Paid монотонен: после true он не возвращается в false.
//
// # Пример
//
//	s, err := student.NewStudent(student.NewStudentParams{
//	    ID:            "STU-0042",
//	    Name:          "Ayesha Rahman",
//	    AdmissionDate: timeutil.Date(2025, time.January, 12),
//	    TotalFee:      decimal.NewFromInt(15000),
//	})
//
// Денежные значения хранятся в shopspring/decimal.
package student
