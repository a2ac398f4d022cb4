package importer

// CreatedUser describes a user that was, or on a dry run would be, created.
type CreatedUser struct {
	Row        int    `json:"row"`
	ID         string `json:"id,omitempty"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// RowError collects every problem found on one sheet row.
type RowError struct {
	Row    int      `json:"row"`
	Email  string   `json:"email"`
	Errors []string `json:"errors"`
}

// Result is the outcome of an import. Success selects the shape: on success
// the counts and CreatedUsers are set, otherwise Errors lists the failing
// rows and nothing was written.
type Result struct {
	Success      bool          `json:"success"`
	DryRun       bool          `json:"dryRun"`
	TotalRows    int           `json:"totalRows"`
	Created      int           `json:"created"`
	CreatedUsers []CreatedUser `json:"createdUsers,omitempty"`
	Errors       []RowError    `json:"errors,omitempty"`
}

// Succeeded builds the success variant.
func Succeeded(totalRows int, dryRun bool, created []CreatedUser) Result {
	if created == nil {
		created = []CreatedUser{}
	}
	return Result{
		Success:      true,
		DryRun:       dryRun,
		TotalRows:    totalRows,
		Created:      len(created),
		CreatedUsers: created,
	}
}

// Failed builds the failure variant.
func Failed(totalRows int, dryRun bool, errs []RowError) Result {
	return Result{
		Success:   false,
		DryRun:    dryRun,
		TotalRows: totalRows,
		Errors:    errs,
	}
}

// FailedRows reports how many distinct rows failed validation.
func (r Result) FailedRows() int {
	return len(r.Errors)
}
