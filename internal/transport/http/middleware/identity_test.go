package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
)

type revocationStub map[int64]bool

func (r revocationStub) IsTokenRevoked(id int64) bool { return r[id] }

func newIdentityRouter(revocations TokenRevocations) (*gin.Engine, *[]int64) {
	gin.SetMode(gin.TestMode)
	seenRoles := &[]int64{}

	router := gin.New()
	router.Use(Identity(revocations))
	router.GET("/whoami", func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		*seenRoles = identity.RoleIDs
		if identity.UserID != nil {
			c.Header("X-Seen-User", "yes")
		}
		c.Status(http.StatusOK)
	})
	return router, seenRoles
}

func TestIdentityParsesHeaders(t *testing.T) {
	router, seenRoles := newIdentityRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(UserIDHeader, "42")
	req.Header.Set(RoleIDsHeader, "3, 5 8")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Seen-User") != "yes" {
		t.Fatalf("expected user id to be parsed")
	}
	if !reflect.DeepEqual(*seenRoles, []int64{3, 5, 8}) {
		t.Fatalf("unexpected roles %v", *seenRoles)
	}
}

func TestIdentityAnonymous(t *testing.T) {
	router, seenRoles := newIdentityRouter(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(*seenRoles) != 0 || rr.Header().Get("X-Seen-User") != "" {
		t.Fatalf("expected anonymous identity")
	}
}

func TestIdentityRejectsMalformedHeaders(t *testing.T) {
	router, _ := newIdentityRouter(nil)

	for header, value := range map[string]string{
		UserIDHeader:  "abc",
		RoleIDsHeader: "1,x",
		TokenIDHeader: "1.5",
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(header, value)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s=%q: expected 400, got %d", header, value, rr.Code)
		}
	}
}

func TestIdentityRejectsRevokedToken(t *testing.T) {
	router, _ := newIdentityRouter(revocationStub{77: true})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(UserIDHeader, "1")
	req.Header.Set(TokenIDHeader, "77")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(TokenIDHeader, "78")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected live token to pass, got %d", rr.Code)
	}
}
