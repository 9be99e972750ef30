package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create students table
-- Version: 001

CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    admission_date TIMESTAMP WITH TIME ZONE NOT NULL,
    cycle_label VARCHAR(64) NOT NULL DEFAULT '',
    total_fee NUMERIC(14,2) NOT NULL DEFAULT 0,
    paid NUMERIC(14,2) NOT NULL DEFAULT 0,
    last_payment_date TIMESTAMP WITH TIME ZONE,
    status_label VARCHAR(20) NOT NULL DEFAULT '',
    last_promoted_at TIMESTAMP WITH TIME ZONE,
    profile JSONB NOT NULL DEFAULT '{}'::jsonb,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT students_total_fee_non_negative CHECK (total_fee >= 0),
    CONSTRAINT students_paid_non_negative CHECK (paid >= 0),
    CONSTRAINT students_paid_le_total CHECK (paid <= total_fee)
);

CREATE INDEX IF NOT EXISTS idx_students_name_lower ON students (LOWER(name));
CREATE INDEX IF NOT EXISTS idx_students_cycle_label ON students (cycle_label);
CREATE INDEX IF NOT EXISTS idx_students_with_due ON students (id) WHERE paid < total_fee;

-- Admission date is written once at creation
CREATE OR REPLACE FUNCTION students_admission_immutable()
RETURNS TRIGGER AS $$
BEGIN
    IF NEW.admission_date IS DISTINCT FROM OLD.admission_date THEN
        RAISE EXCEPTION 'admission_date is immutable for student %', OLD.id;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_students_admission_immutable ON students;
CREATE TRIGGER trg_students_admission_immutable
    BEFORE UPDATE ON students
    FOR EACH ROW
    EXECUTE FUNCTION students_admission_immutable();
`

const migration001Down = `
DROP TRIGGER IF EXISTS trg_students_admission_immutable ON students;
DROP FUNCTION IF EXISTS students_admission_immutable();
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE INSTALLMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create installment schedule
-- Version: 002

CREATE TABLE IF NOT EXISTS installments (
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    label VARCHAR(100) NOT NULL DEFAULT '',
    cycle_year INTEGER NOT NULL,
    cycle_month SMALLINT NOT NULL,
    amount NUMERIC(14,2) NOT NULL,
    paid BOOLEAN NOT NULL DEFAULT FALSE,
    paid_date TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (student_id, position),
    CONSTRAINT installments_amount_non_negative CHECK (amount >= 0),
    CONSTRAINT installments_cycle_month_range CHECK (cycle_month BETWEEN 1 AND 12)
);

CREATE INDEX IF NOT EXISTS idx_installments_cycle ON installments (cycle_year, cycle_month) WHERE NOT paid;

-- A settled installment stays settled
CREATE OR REPLACE FUNCTION installments_paid_monotonic()
RETURNS TRIGGER AS $$
BEGIN
    IF OLD.paid AND NOT NEW.paid THEN
        RAISE EXCEPTION 'installment % of student % is already settled', OLD.position, OLD.student_id;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_installments_paid_monotonic ON installments;
CREATE TRIGGER trg_installments_paid_monotonic
    BEFORE UPDATE ON installments
    FOR EACH ROW
    EXECUTE FUNCTION installments_paid_monotonic();
`

const migration002Down = `
DROP TRIGGER IF EXISTS trg_installments_paid_monotonic ON installments;
DROP FUNCTION IF EXISTS installments_paid_monotonic();
DROP TABLE IF EXISTS installments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE PAYMENT RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create append-only payment log
-- Version: 003

CREATE TABLE IF NOT EXISTS payment_records (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE RESTRICT,
    amount NUMERIC(14,2) NOT NULL,
    payment_date TIMESTAMP WITH TIME ZONE NOT NULL,
    method VARCHAR(32) NOT NULL,
    record_type VARCHAR(32) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    token VARCHAR(32) NOT NULL,
    previous_due NUMERIC(14,2) NOT NULL,
    remaining_due NUMERIC(14,2) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT payment_records_amount_positive CHECK (amount > 0),
    CONSTRAINT payment_records_type_valid CHECK (record_type IN ('payment', 'installment-settlement')),
    CONSTRAINT payment_records_remaining_non_negative CHECK (remaining_due >= 0)
);

CREATE INDEX IF NOT EXISTS idx_payment_records_student ON payment_records (student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_payment_records_token ON payment_records (token);

-- Records are never rewritten
CREATE OR REPLACE FUNCTION payment_records_append_only()
RETURNS TRIGGER AS $$
BEGIN
    RAISE EXCEPTION 'payment_records is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_payment_records_append_only ON payment_records;
CREATE TRIGGER trg_payment_records_append_only
    BEFORE UPDATE OR DELETE ON payment_records
    FOR EACH ROW
    EXECUTE FUNCTION payment_records_append_only();
`

const migration003Down = `
DROP TRIGGER IF EXISTS trg_payment_records_append_only ON payment_records;
DROP FUNCTION IF EXISTS payment_records_append_only();
DROP TABLE IF EXISTS payment_records;
`
