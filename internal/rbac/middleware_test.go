package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/samiam2007/kc-media-leadgen/internal/auth"
)

func serveWithRole(role string, mw gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u-1", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, mw, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRoleAdminBypasses(t *testing.T) {
	if code := serveWithRole(RoleAdmin, RequireAnyRole(RoleManager)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRoleAllowsListedRole(t *testing.T) {
	if code := serveWithRole(RoleAnalyst, RequireAnyRole(RoleManager, RoleAnalyst)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRoleDeniesUnlistedRole(t *testing.T) {
	if code := serveWithRole(RoleAnalyst, RequireAnyRole(RoleManager)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRoleMissingIdentity(t *testing.T) {
	if code := serveWithRole("", RequireAnyRole(RoleManager)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
