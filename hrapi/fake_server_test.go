package hrapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/hrquery"
	"github.com/ambiyansyah-risyal/hrquery/hrapi"
)

// fakeHR is an in-memory HR backend.
type fakeHR struct {
	mu        sync.Mutex
	employees map[string]hrapi.Employee
	leaves    map[string]hrapi.LeaveRequest
	slips     []hrapi.SalarySlip
	documents []hrapi.Document
	calls     map[string]int
	queries   map[string][]string

	// employeesGate, when set, blocks /employee/all until closed.
	employeesGate chan struct{}
	// failApply makes /leave/apply answer 500.
	failApply bool
}

func newFakeHR(t *testing.T) (*fakeHR, *httptest.Server) {
	t.Helper()
	f := &fakeHR{
		employees: map[string]hrapi.Employee{
			"E1": {ID: "E1", Name: "Ayu Lestari", Email: "ayu@example.com", Department: "Finance"},
			"E2": {ID: "E2", Name: "Budi Santoso", Email: "budi@example.com", Department: "Engineering"},
		},
		leaves: map[string]hrapi.LeaveRequest{
			"L1": {ID: "L1", EmployeeID: "E1", Type: "annual", From: "2026-03-02", To: "2026-03-04", Days: decimal.NewFromInt(3), Status: hrapi.LeavePending},
		},
		slips: []hrapi.SalarySlip{{
			EmployeeID: "E1",
			Month:      "2026-02",
			Currency:   "IDR",
			Basic:      decimal.RequireFromString("12500000.00"),
			Allowances: decimal.RequireFromString("1750000.50"),
			Deductions: decimal.RequireFromString("625000.25"),
			NetPay:     decimal.RequireFromString("13625000.25"),
		}},
		calls:   make(map[string]int),
		queries: make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Use(f.count)
	r.Route("/employee", func(r chi.Router) {
		r.Get("/all", f.listEmployees)
		r.Put("/update", f.updateEmployee)
		r.Get("/{id}", f.getEmployee)
	})
	r.Route("/leave", func(r chi.Router) {
		r.Get("/all", f.listLeaves)
		r.Post("/apply", f.applyLeave)
		r.Put("/review", f.reviewLeave)
	})
	r.Get("/salary/slips", f.listSlips)
	r.Get("/attendance", f.attendance)
	r.Route("/document", func(r chi.Router) {
		r.Get("/all", f.listDocuments)
		r.Post("/upload", f.uploadDocument)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func newClient(t *testing.T, srv *httptest.Server) *hrquery.Client {
	t.Helper()
	client := hrquery.New(
		hrquery.WithBaseURL(srv.URL),
		hrquery.WithTimeout(5*time.Second),
		hrquery.WithBackoffUnit(time.Millisecond),
		hrquery.WithMaxRetries(2),
	)
	require.True(t, client.IsValid(), "client config: %v", client.ValidationError())
	return client
}

func newService(t *testing.T, srv *httptest.Server, opts ...hrquery.MutationOption) *hrapi.Service {
	t.Helper()
	cache := hrquery.NewQueryCache(hrquery.WithRetention(time.Minute), hrquery.WithStaleTime(time.Minute))
	return hrapi.New(newClient(t, srv), cache, opts...)
}

func (f *fakeHR) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		f.queries[r.URL.Path] = append(f.queries[r.URL.Path], r.URL.RawQuery)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *fakeHR) callCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeHR) lastQuery(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queries[path]
	if len(q) == 0 {
		return ""
	}
	return q[len(q)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeHR) listEmployees(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.employeesGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	out := make([]hrapi.Employee, 0, len(f.employees))
	for _, id := range []string{"E1", "E2"} {
		if e, ok := f.employees[id]; ok {
			out = append(out, e)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeHR) getEmployee(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	e, ok := f.employees[chi.URLParam(r, "id")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "employee not found"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (f *fakeHR) updateEmployee(w http.ResponseWriter, r *http.Request) {
	var u hrapi.EmployeeUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.employees[u.EmployeeID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "employee not found"})
		return
	}
	if u.DOB != "" {
		e.DOB = u.DOB
	}
	if u.Name != "" {
		e.Name = u.Name
	}
	if u.Department != "" {
		e.Department = u.Department
	}
	f.employees[u.EmployeeID] = e
	writeJSON(w, http.StatusOK, e)
}

func (f *fakeHR) listLeaves(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("employeeId")
	f.mu.Lock()
	out := []hrapi.LeaveRequest{}
	for _, l := range f.leaves {
		if l.EmployeeID == id {
			out = append(out, l)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeHR) applyLeave(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "leave service unavailable"})
		return
	}
	var a hrapi.LeaveApplication
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	l := hrapi.LeaveRequest{ID: "L2", EmployeeID: a.EmployeeID, Type: a.Type, From: a.From, To: a.To, Days: decimal.NewFromInt(1), Status: hrapi.LeavePending}
	f.leaves[l.ID] = l
	writeJSON(w, http.StatusCreated, l)
}

func (f *fakeHR) reviewLeave(w http.ResponseWriter, r *http.Request) {
	var rv hrapi.LeaveReview
	if err := json.NewDecoder(r.Body).Decode(&rv); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leaves[rv.RequestID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "leave request not found"})
		return
	}
	l.Status, l.Comment = rv.Status, rv.Comment
	f.leaves[l.ID] = l
	writeJSON(w, http.StatusOK, l)
}

func (f *fakeHR) listSlips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	out := []hrapi.SalarySlip{}
	for _, s := range f.slips {
		if s.EmployeeID == q.Get("employeeId") && s.Month == q.Get("month") {
			out = append(out, s)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeHR) attendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := []hrapi.AttendanceRecord{}
	for _, id := range q["employeeIds"] {
		out = append(out, hrapi.AttendanceRecord{EmployeeID: id, Date: q.Get("month") + "-02", CheckIn: "08:58", CheckOut: "17:04", Status: "present"})
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeHR) listDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("employeeId")
	f.mu.Lock()
	out := []hrapi.Document{}
	for _, d := range f.documents {
		if d.EmployeeID == id {
			out = append(out, d)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeHR) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data; boundary=") {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"message": "expected multipart body, got " + r.Header.Get("Content-Type")})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	defer file.Close()
	if _, err := io.ReadAll(file); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	d := hrapi.Document{
		ID:         "D" + string(rune('1'+len(f.documents))),
		EmployeeID: r.FormValue("employeeId"),
		Kind:       r.FormValue("kind"),
		Filename:   header.Filename,
	}
	f.documents = append(f.documents, d)
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, d)
}
