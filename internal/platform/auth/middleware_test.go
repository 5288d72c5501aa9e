package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func patientToken(t *testing.T, id uuid.UUID) string {
	return signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ActorKind: KindPatient,
	})
}

func staffToken(t *testing.T, id, hospitalID uuid.UUID) string {
	return signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ActorKind:  KindStaff,
		HospitalID: hospitalID.String(),
	})
}

func serveWithAuth(token string, extra ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, *Actor) {
	e := echo.New()
	var captured *Actor

	mws := append([]echo.MiddlewareFunc{JWTMiddleware(JWTConfig{SigningKey: testSigningKey})}, extra...)
	e.GET("/protected", func(c echo.Context) error {
		if a, ok := ActorFromContext(c.Request().Context()); ok {
			captured = &a
		}
		return c.NoContent(http.StatusOK)
	}, mws...)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, captured
}

func TestJWTMiddleware_ValidPatientToken(t *testing.T) {
	id := uuid.New()
	rec, actor := serveWithAuth(patientToken(t, id))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if actor == nil {
		t.Fatal("expected actor on context")
	}
	if actor.ID != id || actor.Kind != KindPatient || actor.HospitalID != nil {
		t.Errorf("unexpected actor %+v", actor)
	}
}

func TestJWTMiddleware_ValidStaffToken(t *testing.T) {
	id, hospitalID := uuid.New(), uuid.New()
	rec, actor := serveWithAuth(staffToken(t, id, hospitalID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if actor == nil || !actor.IsStaff() {
		t.Fatalf("expected staff actor, got %+v", actor)
	}
	if !actor.WorksAt(hospitalID) {
		t.Error("expected staff actor scoped to its hospital")
	}
	if actor.WorksAt(uuid.New()) {
		t.Error("expected staff actor not to work at a random hospital")
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	rec, _ := serveWithAuth("")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_WrongKeyRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ActorKind: KindPatient,
	})
	signed, err := token.SignedString([]byte("some-other-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec, _ := serveWithAuth(signed)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	expired := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		ActorKind: KindPatient,
	})

	rec, _ := serveWithAuth(expired)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_UnknownActorKind(t *testing.T) {
	bad := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ActorKind: "ROBOT",
	})

	rec, _ := serveWithAuth(bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_StaffWithoutHospitalRejected(t *testing.T) {
	bad := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ActorKind: KindStaff,
	})

	rec, _ := serveWithAuth(bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireStaff(t *testing.T) {
	rec, _ := serveWithAuth(patientToken(t, uuid.New()), RequireStaff())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for patient, got %d", rec.Code)
	}

	rec, _ = serveWithAuth(staffToken(t, uuid.New(), uuid.New()), RequireStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d", rec.Code)
	}
}
