// Package hrapi binds the HR endpoints to hrquery keys and mutations.
package hrapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/ambiyansyah-risyal/hrquery"
)

// Cache key endpoints. Keys are logical names shared by queries and the
// invalidations of the mutations that change them.
const (
	KeyEmployees  = "employees"
	KeyEmployee   = "employee"
	KeyLeaves     = "leaves"
	KeySalary     = "salary"
	KeyAttendance = "attendance"
	KeyDocuments  = "documents"
)

// ErrMissingID is returned when an operation needs an identifier that was
// not supplied.
var ErrMissingID = errors.New("hrapi: missing identifier")

// EmployeesKey addresses the employee list.
func EmployeesKey() hrquery.Key { return hrquery.NewKey(KeyEmployees, nil) }

// EmployeeKey addresses one employee profile.
func EmployeeKey(id string) hrquery.Key {
	return hrquery.NewKey(KeyEmployee, hrquery.Params{"employeeId": id})
}

// LeavesKey addresses the leave requests of one employee.
func LeavesKey(employeeID string) hrquery.Key {
	return hrquery.NewKey(KeyLeaves, hrquery.Params{"employeeId": employeeID})
}

// SalaryKey addresses the salary slips of one employee for a month (YYYY-MM).
func SalaryKey(employeeID, month string) hrquery.Key {
	return hrquery.NewKey(KeySalary, hrquery.Params{"employeeId": employeeID, "month": month})
}

// AttendanceKey addresses the attendance of a set of employees. The order of
// ids does not matter.
func AttendanceKey(ids []string, month string) hrquery.Key {
	return hrquery.NewKey(KeyAttendance, hrquery.Params{"employeeIds": sortedIDs(ids), "month": month})
}

// DocumentsKey addresses the documents of one employee.
func DocumentsKey(employeeID string) hrquery.Key {
	return hrquery.NewKey(KeyDocuments, hrquery.Params{"employeeId": employeeID})
}

func sortedIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// Service is the typed HR API. Queries go through the shared cache; writes
// go through mutations that refresh the affected keys.
type Service struct {
	client *hrquery.Client
	cache  *hrquery.QueryCache

	UpdateEmployee *hrquery.Mutation[EmployeeUpdate]
	ApplyLeave     *hrquery.Mutation[LeaveApplication]
	ReviewLeave    *hrquery.Mutation[LeaveReview]
	UploadDocument *hrquery.Mutation[DocumentUpload]
}

// New wires the service. opts apply to every mutation, typically callbacks
// for user feedback.
func New(client *hrquery.Client, cache *hrquery.QueryCache, opts ...hrquery.MutationOption) *Service {
	s := &Service{client: client, cache: cache}

	s.UpdateEmployee = hrquery.NewMutation(client, cache,
		buildUpdateEmployee,
		append([]hrquery.MutationOption{
			hrquery.Invalidates(hrquery.Endpoint(KeyEmployees)),
			hrquery.InvalidatesFor(func(u EmployeeUpdate) []hrquery.Invalidation {
				return []hrquery.Invalidation{hrquery.ExactKey(EmployeeKey(u.EmployeeID))}
			}),
		}, opts...)...,
	)

	s.ApplyLeave = hrquery.NewMutation(client, cache,
		buildApplyLeave,
		append([]hrquery.MutationOption{
			hrquery.InvalidatesFor(func(a LeaveApplication) []hrquery.Invalidation {
				return []hrquery.Invalidation{hrquery.ExactKey(LeavesKey(a.EmployeeID))}
			}),
		}, opts...)...,
	)

	s.ReviewLeave = hrquery.NewMutation(client, cache,
		buildReviewLeave,
		append([]hrquery.MutationOption{
			hrquery.Invalidates(hrquery.Endpoint(KeyLeaves)),
		}, opts...)...,
	)

	s.UploadDocument = hrquery.NewMutation(client, cache,
		buildUploadDocument,
		append([]hrquery.MutationOption{
			hrquery.InvalidatesFor(func(u DocumentUpload) []hrquery.Invalidation {
				return []hrquery.Invalidation{hrquery.ExactKey(DocumentsKey(u.EmployeeID))}
			}),
		}, opts...)...,
	)

	return s
}

func buildUpdateEmployee(u EmployeeUpdate) (hrquery.RequestDescriptor, error) {
	if u.EmployeeID == "" {
		return hrquery.RequestDescriptor{}, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	d := hrquery.Put("/employee/update", u)
	d.Idempotent = true
	return d, nil
}

func buildApplyLeave(a LeaveApplication) (hrquery.RequestDescriptor, error) {
	if a.EmployeeID == "" {
		return hrquery.RequestDescriptor{}, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	return hrquery.Post("/leave/apply", a), nil
}

func buildReviewLeave(r LeaveReview) (hrquery.RequestDescriptor, error) {
	if r.RequestID == "" {
		return hrquery.RequestDescriptor{}, fmt.Errorf("%w: requestId", ErrMissingID)
	}
	switch r.Status {
	case LeaveApproved, LeaveRejected:
	default:
		return hrquery.RequestDescriptor{}, fmt.Errorf("hrapi: review status must be approved or rejected, got %q", r.Status)
	}
	d := hrquery.Put("/leave/review", r)
	d.Idempotent = true
	return d, nil
}

func buildUploadDocument(u DocumentUpload) (hrquery.RequestDescriptor, error) {
	if u.EmployeeID == "" {
		return hrquery.RequestDescriptor{}, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	if u.Filename == "" {
		return hrquery.RequestDescriptor{}, errors.New("hrapi: document filename is empty")
	}
	form := hrquery.NewFormData().
		Field("employeeId", u.EmployeeID).
		Field("kind", u.Kind).
		File("file", u.Filename, u.Content)
	return hrquery.Post("/document/upload", form), nil
}

// fetch reads key through the cache and decodes the result into T.
func fetch[T any](ctx context.Context, s *Service, key hrquery.Key, d hrquery.RequestDescriptor) (T, error) {
	var zero T
	fetcher, err := s.client.Fetcher(d)
	if err != nil {
		return zero, err
	}
	env, err := s.cache.Fetch(ctx, key, fetcher)
	if err != nil {
		return zero, err
	}
	return hrquery.Decode[T](env)
}

func (s *Service) watch(key hrquery.Key, d hrquery.RequestDescriptor, opts ...hrquery.SubscribeOption) (*hrquery.Subscription, error) {
	fetcher, err := s.client.Fetcher(d)
	if err != nil {
		return nil, err
	}
	return s.cache.Subscribe(key, fetcher, opts...)
}

func employeesRequest() hrquery.RequestDescriptor {
	return hrquery.Get("/employee/all", nil)
}

func employeeRequest(id string) hrquery.RequestDescriptor {
	return hrquery.Get("/employee/"+url.PathEscape(id), nil)
}

func leavesRequest(employeeID string) hrquery.RequestDescriptor {
	return hrquery.Get("/leave/all", hrquery.Params{"employeeId": employeeID})
}

func salaryRequest(employeeID, month string) hrquery.RequestDescriptor {
	return hrquery.Get("/salary/slips", hrquery.Params{"employeeId": employeeID, "month": month})
}

func attendanceRequest(ids []string, month string) hrquery.RequestDescriptor {
	return hrquery.Get("/attendance", hrquery.Params{"employeeIds": sortedIDs(ids), "month": month})
}

func documentsRequest(employeeID string) hrquery.RequestDescriptor {
	return hrquery.Get("/document/all", hrquery.Params{"employeeId": employeeID})
}

// ListEmployees returns every employee.
func (s *Service) ListEmployees(ctx context.Context) ([]Employee, error) {
	return fetch[[]Employee](ctx, s, EmployeesKey(), employeesRequest())
}

// WatchEmployees subscribes to the employee list.
func (s *Service) WatchEmployees(opts ...hrquery.SubscribeOption) (*hrquery.Subscription, error) {
	return s.watch(EmployeesKey(), employeesRequest(), opts...)
}

// GetEmployee returns one employee profile.
func (s *Service) GetEmployee(ctx context.Context, id string) (Employee, error) {
	if id == "" {
		return Employee{}, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	return fetch[Employee](ctx, s, EmployeeKey(id), employeeRequest(id))
}

// LeaveRequests returns the leave requests of an employee.
func (s *Service) LeaveRequests(ctx context.Context, employeeID string) ([]LeaveRequest, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	return fetch[[]LeaveRequest](ctx, s, LeavesKey(employeeID), leavesRequest(employeeID))
}

// WatchLeaveRequests subscribes to the leave requests of an employee.
func (s *Service) WatchLeaveRequests(employeeID string, opts ...hrquery.SubscribeOption) (*hrquery.Subscription, error) {
	return s.watch(LeavesKey(employeeID), leavesRequest(employeeID), opts...)
}

// SalarySlips returns the slips of an employee for month (YYYY-MM).
func (s *Service) SalarySlips(ctx context.Context, employeeID, month string) ([]SalarySlip, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	return fetch[[]SalarySlip](ctx, s, SalaryKey(employeeID, month), salaryRequest(employeeID, month))
}

// WatchAttendance subscribes to the attendance of ids. The subscription
// stays idle until ids is non-empty; callers that learn the ids later
// should subscribe again with the full set.
func (s *Service) WatchAttendance(ids []string, month string, opts ...hrquery.SubscribeOption) (*hrquery.Subscription, error) {
	opts = append([]hrquery.SubscribeOption{hrquery.Enabled(len(ids) > 0)}, opts...)
	return s.watch(AttendanceKey(ids, month), attendanceRequest(ids, month), opts...)
}

// Attendance returns the attendance of ids for month. An empty id set
// returns no records without a request.
func (s *Service) Attendance(ctx context.Context, ids []string, month string) ([]AttendanceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return fetch[[]AttendanceRecord](ctx, s, AttendanceKey(ids, month), attendanceRequest(ids, month))
}

// Documents returns the documents uploaded for an employee.
func (s *Service) Documents(ctx context.Context, employeeID string) ([]Document, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employeeId", ErrMissingID)
	}
	return fetch[[]Document](ctx, s, DocumentsKey(employeeID), documentsRequest(employeeID))
}

// Cache returns the shared query cache.
func (s *Service) Cache() *hrquery.QueryCache {
	return s.cache
}
