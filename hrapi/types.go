package hrapi

import (
	"github.com/shopspring/decimal"
)

// Employee is a profile as returned by the employee endpoints.
type Employee struct {
	ID         string `json:"employeeId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
	DOB        string `json:"dob,omitempty"`
	JoinedAt   string `json:"joinedAt,omitempty"`
}

// EmployeeUpdate is the partial profile sent to /employee/update. Empty
// fields are left unchanged by the server.
type EmployeeUpdate struct {
	EmployeeID string `json:"employeeId"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
	DOB        string `json:"dob,omitempty"`
}

// LeaveStatus is the review state of a leave request.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// LeaveRequest is one leave application and its review state.
type LeaveRequest struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employeeId"`
	Type       string          `json:"type"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Days       decimal.Decimal `json:"days"`
	Reason     string          `json:"reason,omitempty"`
	Status     LeaveStatus     `json:"status"`
	Comment    string          `json:"comment,omitempty"`
}

// LeaveApplication is the body of /leave/apply.
type LeaveApplication struct {
	EmployeeID string `json:"employeeId"`
	Type       string `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason,omitempty"`
}

// LeaveReview approves or rejects a pending request.
type LeaveReview struct {
	RequestID  string      `json:"requestId"`
	EmployeeID string      `json:"employeeId"`
	Status     LeaveStatus `json:"status"`
	Comment    string      `json:"comment,omitempty"`
}

// SalarySlip is a monthly payroll slip. Amounts are decimals so that the
// displayed figures match the server to the cent.
type SalarySlip struct {
	EmployeeID string          `json:"employeeId"`
	Month      string          `json:"month"`
	Currency   string          `json:"currency"`
	Basic      decimal.Decimal `json:"basic"`
	Allowances decimal.Decimal `json:"allowances"`
	Deductions decimal.Decimal `json:"deductions"`
	NetPay     decimal.Decimal `json:"netPay"`
}

// Net is basic plus allowances minus deductions.
func (s SalarySlip) Net() decimal.Decimal {
	return s.Basic.Add(s.Allowances).Sub(s.Deductions)
}

// Consistent reports whether the server's net pay matches the components.
func (s SalarySlip) Consistent() bool {
	return s.Net().Equal(s.NetPay)
}

// AttendanceRecord is one employee day.
type AttendanceRecord struct {
	EmployeeID string `json:"employeeId"`
	Date       string `json:"date"`
	CheckIn    string `json:"checkIn,omitempty"`
	CheckOut   string `json:"checkOut,omitempty"`
	Status     string `json:"status"`
}

// Document is an uploaded employee document.
type Document struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employeeId"`
	Kind       string `json:"kind"`
	Filename   string `json:"filename"`
}

// DocumentUpload is the input of the upload mutation.
type DocumentUpload struct {
	EmployeeID string
	Kind       string
	Filename   string
	Content    []byte
}
