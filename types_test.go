package hrquery

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"
)

func TestRequestDescriptor_Idempotency(t *testing.T) {
	tests := []struct {
		d    RequestDescriptor
		want bool
	}{
		{Get("/x", nil), true},
		{RequestDescriptor{Method: http.MethodHead, Endpoint: "/x"}, true},
		{RequestDescriptor{Method: http.MethodOptions, Endpoint: "/x"}, true},
		{Post("/x", nil), false},
		{Put("/x", nil), false},
		{Delete("/x", nil), false},
		{RequestDescriptor{Method: http.MethodPost, Endpoint: "/x", Idempotent: true}, true},
		{RequestDescriptor{Method: http.MethodPatch, Endpoint: "/x", Idempotent: true}, true},
	}
	for _, tt := range tests {
		if got := tt.d.isIdempotent(); got != tt.want {
			t.Errorf("%s idempotent=%v: isIdempotent() = %v, want %v", tt.d.Method, tt.d.Idempotent, got, tt.want)
		}
	}
}

func TestEnvelope_Decode(t *testing.T) {
	env := success(200, []byte(`{"employeeId":"E1"}`))
	got, err := Decode[struct {
		EmployeeID string `json:"employeeId"`
	}](env)
	if err != nil || got.EmployeeID != "E1" {
		t.Errorf("Decode() = %+v, %v", got, err)
	}

	failed := failure(&APIError{Kind: KindClient, StatusCode: 403})
	if _, err := Decode[map[string]any](failed); !errors.Is(err, &APIError{Kind: KindClient}) {
		t.Errorf("Expected envelope error from Decode, got %v", err)
	}
	if failed.OK() || failed.StatusCode != 403 {
		t.Errorf("Unexpected failure envelope %+v", failed)
	}

	bad := success(200, []byte(`not json`))
	if _, err := Decode[map[string]any](bad); err == nil {
		t.Error("Expected decode error for invalid JSON")
	}
}

func TestStatusString(t *testing.T) {
	want := map[Status]string{StatusIdle: "idle", StatusLoading: "loading", StatusSuccess: "success", StatusError: "error", Status(9): "unknown"}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("Status(%d).String() = %q, want %q", s, s.String(), w)
		}
	}
}

func TestFormData_Encode(t *testing.T) {
	form := NewFormData().Field("kind", "contract").File("file", "a.pdf", []byte("%PDF"))

	r, contentType, err := form.encode()
	if err != nil {
		t.Fatalf(expectedNoErrorMsg, err)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("Unexpected content type %q (%v)", contentType, err)
	}

	mr := multipart.NewReader(r, params["boundary"])
	part, err := mr.NextPart()
	if err != nil || part.FormName() != "kind" {
		t.Fatalf("Expected kind field first, got %v (%v)", part, err)
	}
	part, err = mr.NextPart()
	if err != nil || part.FileName() != "a.pdf" {
		t.Fatalf("Expected file part, got %v (%v)", part, err)
	}
	content, _ := io.ReadAll(part)
	if string(content) != "%PDF" {
		t.Errorf("Unexpected file content %q", content)
	}
}
