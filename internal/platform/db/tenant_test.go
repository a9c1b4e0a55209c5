package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{"header", "", "hospital_abc", "", "hospital_abc"},
		{"query", "", "", "clinic_xyz", "clinic_xyz"},
		{"jwt wins", "jwt", "header", "query", "jwt"},
		{"header over query", "", "header_tenant", "query_tenant", "header_tenant"},
		{"empty jwt falls through", "", "header_tenant", "", "header_tenant"},
		{"default", "", "", "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?tenant_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	conn := ConnFromContext(context.Background())
	if conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "test_tenant")
	tid := TenantFromContext(ctx)
	if tid != "test_tenant" {
		t.Errorf("expected test_tenant, got %s", tid)
	}

	empty := TenantFromContext(context.Background())
	if empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	err := CreateTenantSchema(context.Background(), nil, "invalid-id!", "")
	if err == nil {
		t.Error("expected error for invalid tenant ID")
	}
}

func TestSchemaName(t *testing.T) {
	schema, err := SchemaName("clinic_7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema != "tenant_clinic_7" {
		t.Errorf("expected tenant_clinic_7, got %s", schema)
	}
	if SearchPath(schema) != "SET search_path TO tenant_clinic_7, public" {
		t.Errorf("unexpected search path %q", SearchPath(schema))
	}
	if _, err := SchemaName("x; DROP SCHEMA public"); err == nil {
		t.Error("expected error for unsafe tenant ID")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestTxManager_NoPoolNoConn(t *testing.T) {
	called := false
	err := NewTxManager(nil).InTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("expected error without a pool or tenant connection")
	}
	if called {
		t.Error("unit of work must not run without a transaction")
	}
}

func TestTenantIDPattern_Comprehensive(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"ABC", true},
		{"abc123", true},
		{"tenant_1", true},
		{"a", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"a/b", false},
		{"", false},
		{"$pecial", false},
		{"tenant@1", false},
	}

	for _, tt := range tests {
		got := tenantIDPattern.MatchString(tt.input)
		if got != tt.valid {
			t.Errorf("tenantIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestCreateTenantSchema_VariousInvalidIDs(t *testing.T) {
	invalidIDs := []string{"tenant-with-dash", "tenant.with.dot", "ten ant", "drop;table"}
	for _, id := range invalidIDs {
		err := CreateTenantSchema(context.Background(), nil, id, "")
		if err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestConnFromContext_WithValue(t *testing.T) {
	// Verify ConnFromContext returns nil for wrong type in context
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	conn := ConnFromContext(ctx)
	if conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTenantFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, 12345)
	tid := TenantFromContext(ctx)
	if tid != "" {
		t.Errorf("expected empty string when context value is wrong type, got %q", tid)
	}
}
