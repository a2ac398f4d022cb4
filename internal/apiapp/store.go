package apiapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
)

type Tenant struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	statusActive   = "active"
	statusInactive = "inactive"
)

type Employee struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID     string    `gorm:"not null;uniqueIndex:idx_employee_tenant_email,priority:1" json:"-"`
	Email        string    `gorm:"not null;uniqueIndex:idx_employee_tenant_email,priority:2" json:"email"`
	FirstName    string    `gorm:"not null" json:"firstName"`
	LastName     string    `gorm:"not null" json:"lastName"`
	Role         string    `gorm:"not null" json:"role"`
	Department   string    `json:"department"`
	JobTitle     string    `json:"jobTitle"`
	ManagerID    *string   `gorm:"index;size:36" json:"managerId"`
	HireDate     string    `json:"hireDate"`
	Status       string    `gorm:"not null" json:"status"`
	PasswordHash string    `json:"-"`
	HasPhoto     bool      `json:"hasPhoto"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

type EmployeePhoto struct {
	EmployeeID string `gorm:"primaryKey;size:36"`
	TenantID   string `gorm:"not null;index"`
	Data       []byte
	UpdatedAt  time.Time
}

type Session struct {
	Token      string    `gorm:"primaryKey"`
	EmployeeID string    `gorm:"not null;index"`
	TenantID   string    `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	CreatedAt  time.Time
}

type BenefitType struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string    `gorm:"not null;uniqueIndex:idx_benefit_tenant_name,priority:1" json:"-"`
	Name        string    `gorm:"not null;uniqueIndex:idx_benefit_tenant_name,priority:2" json:"name"`
	Category    string    `gorm:"not null" json:"category"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TimesheetPolicy struct {
	TenantID               string    `gorm:"primaryKey;size:36" json:"-"`
	WeekStartDay           string    `gorm:"not null" json:"weekStartDay"`
	MaxHoursPerDay         float64   `json:"maxHoursPerDay"`
	MaxHoursPerWeek        float64   `json:"maxHoursPerWeek"`
	AllowWeekendEntries    bool      `json:"allowWeekendEntries"`
	RequireApproval        bool      `json:"requireApproval"`
	MaxLeaveDaysPerRequest int       `json:"maxLeaveDaysPerRequest"`
	IsDefault              bool      `gorm:"-" json:"isDefault"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string    `gorm:"not null;uniqueIndex:idx_project_tenant_code,priority:1" json:"-"`
	Code        string    `gorm:"not null;uniqueIndex:idx_project_tenant_code,priority:2" json:"code"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Task struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string    `gorm:"not null;index" json:"-"`
	ProjectID   string    `gorm:"not null;index;size:36" json:"projectId"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TimesheetEntry struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID   string    `gorm:"not null;index" json:"-"`
	EmployeeID string    `gorm:"not null;index:idx_timesheet_employee_date,priority:1;size:36" json:"employeeId"`
	WorkDate   string    `gorm:"not null;index:idx_timesheet_employee_date,priority:2" json:"workDate"`
	ProjectID  string    `gorm:"not null;size:36" json:"projectId"`
	TaskID     *string   `gorm:"size:36" json:"taskId"`
	Hours      float64   `json:"hours"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	leavePending  = "pending"
	leaveApproved = "approved"
	leaveRejected = "rejected"
)

type LeaveRequest struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID   string     `gorm:"not null;index" json:"-"`
	EmployeeID string     `gorm:"not null;index;size:36" json:"employeeId"`
	LeaveType  string     `gorm:"not null" json:"leaveType"`
	StartDate  string     `gorm:"not null" json:"startDate"`
	EndDate    string     `gorm:"not null" json:"endDate"`
	Days       int        `json:"days"`
	Reason     string     `json:"reason"`
	Status     string     `gorm:"not null;index" json:"status"`
	DecidedBy  *string    `gorm:"size:36" json:"decidedBy"`
	DecidedAt  *time.Time `json:"decidedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type store struct {
	db *gorm.DB
}

func openStore(dbPath string) (*store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&Tenant{},
		&Employee{},
		&EmployeePhoto{},
		&Session{},
		&BenefitType{},
		&TimesheetPolicy{},
		&Project{},
		&Task{},
		&TimesheetEntry{},
		&LeaveRequest{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newID() string {
	return uuid.NewString()
}

// tx runs fn in a transaction, retrying when SQLite reports a lock.
func (s *store) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return withSQLiteRetry(func() error {
		return s.db.WithContext(ctx).Transaction(fn)
	})
}

func (s *store) scoped(ctx context.Context, tenantID string) *gorm.DB {
	return s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
}

// first loads one tenant row by id into dest.
func (s *store) first(ctx context.Context, tenantID, id string, dest any) error {
	err := s.scoped(ctx, tenantID).Where("id = ?", id).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound
	}
	return err
}

func (s *store) create(ctx context.Context, row any) error {
	return translateWriteError(withSQLiteRetry(func() error {
		return s.db.WithContext(ctx).Create(row).Error
	}))
}

func (s *store) save(ctx context.Context, row any) error {
	return translateWriteError(withSQLiteRetry(func() error {
		return s.db.WithContext(ctx).Save(row).Error
	}))
}

func (s *store) deleteByID(ctx context.Context, tenantID, id string, model any) error {
	var affected int64
	err := withSQLiteRetry(func() error {
		res := s.scoped(ctx, tenantID).Where("id = ?", id).Delete(model)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNotFound
	}
	return nil
}

func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
		return fmt.Errorf("%w: %v", errConflict, err)
	}
	return err
}

func withSQLiteRetry(fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		lower := strings.ToLower(err.Error())
		if !strings.Contains(lower, "database is locked") && !strings.Contains(lower, "database is busy") {
			return err
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 125 * time.Millisecond)
		}
	}
	return err
}
