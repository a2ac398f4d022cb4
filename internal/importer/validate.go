package importer

import (
	"net/mail"
	"sort"
	"strconv"
	"strings"
)

// Validate checks rows against each other and against the emails that already
// exist in the tenant (lower-cased keys). It returns one RowError per failing
// row, ordered by row number.
func Validate(rows []Row, existingEmails map[string]bool) []RowError {
	inFile := make(map[string]int, len(rows))
	for _, row := range rows {
		if row.Email == "" {
			continue
		}
		if _, seen := inFile[row.Email]; !seen {
			inFile[row.Email] = row.Line
		}
	}

	var out []RowError
	for _, row := range rows {
		var problems []string

		switch {
		case row.Email == "":
			problems = append(problems, "email is required")
		case !validEmail(row.Email):
			problems = append(problems, "email is not a valid address")
		default:
			if first := inFile[row.Email]; first != row.Line {
				problems = append(problems, "email duplicates row "+strconv.Itoa(first))
			}
			if existingEmails[row.Email] {
				problems = append(problems, "a user with this email already exists")
			}
		}

		if row.FirstName == "" {
			problems = append(problems, "first_name is required")
		}
		if row.LastName == "" {
			problems = append(problems, "last_name is required")
		}
		if !ValidRole(row.Role) {
			problems = append(problems, "role must be one of admin, manager, employee")
		}
		if row.rawHireDate != "" && row.HireDate == "" {
			problems = append(problems, "hire_date is not a recognizable date")
		}

		if row.ManagerEmail != "" {
			switch {
			case !validEmail(row.ManagerEmail):
				problems = append(problems, "manager_email is not a valid address")
			case row.ManagerEmail == row.Email:
				problems = append(problems, "manager_email cannot be the user's own email")
			case !existingEmails[row.ManagerEmail]:
				if _, ok := inFile[row.ManagerEmail]; !ok {
					problems = append(problems, "manager_email does not match an existing or imported user")
				}
			}
		}

		if len(problems) > 0 {
			out = append(out, RowError{Row: row.Line, Email: row.Email, Errors: problems})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// OrderForCreate returns rows so that every in-file manager precedes the rows
// that report to them. Rows in a reporting cycle keep their sheet order.
func OrderForCreate(rows []Row) []Row {
	byEmail := make(map[string]Row, len(rows))
	for _, row := range rows {
		byEmail[row.Email] = row
	}

	placed := make(map[string]bool, len(rows))
	visiting := make(map[string]bool)
	out := make([]Row, 0, len(rows))

	var place func(row Row)
	place = func(row Row) {
		if placed[row.Email] || visiting[row.Email] {
			return
		}
		visiting[row.Email] = true
		if manager, ok := byEmail[row.ManagerEmail]; ok && row.ManagerEmail != "" {
			place(manager)
		}
		visiting[row.Email] = false
		if !placed[row.Email] {
			placed[row.Email] = true
			out = append(out, row)
		}
	}
	for _, row := range rows {
		place(row)
	}
	return out
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return false
	}
	return strings.EqualFold(addr.Address, value) && strings.Contains(value, "@")
}
